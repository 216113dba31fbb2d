package service

import (
	"os"
	"testing"

	"screener_bot/pkg/logger"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
