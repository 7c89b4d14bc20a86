// Package database provides connection management, migrations, foreign key
// handling, SQL seeding, configuration types, logging and driver error
// classification built on top of bun.
package database
