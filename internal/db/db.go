package db

import (
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"orderdesk/internal/order"
)

// Connect opens the MySQL connection and migrates the order schema.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}

	if err := gdb.AutoMigrate(
		&order.User{},
		&order.Order{},
		&order.Conversation{},
		&order.Message{},
	); err != nil {
		log.Fatal().Err(err).Msg("db migrate failed")
	}

	return gdb
}
