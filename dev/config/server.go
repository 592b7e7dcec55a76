package config

// SERVER_YML is the config used when the server runs with --dev.
// Notifications go to the log instead of Twilio/SMTP.
const SERVER_YML = `
deadman:
  logLevel: debug
  cron:
    timeZone: "America/Toronto"
  listener:
    port: 3000
  scanner:
    interval: "30s"
    pageSize: 100
  dispatcher:
    concurrency: 2
    maxAttempts: 3
    attemptTimeout: "10s"
    backoffMin: "1s"
    backoffMax: "10s"

database:
  driver: sqlite

sqlite:
  passPhrase: passphrase

redis:
  addr:
  leaseTTL: "2m"

google:
  storage:
    bucket: "deadman"
    prefix: "deadman-dev"
    sqliteBackupSchedule: "*/30 * * * *"
    enableSqliteBackupAndSync: false
  applicationCredentials:

twilio:
  accountSid:
  authToken:
  messagingServiceSid:
`
