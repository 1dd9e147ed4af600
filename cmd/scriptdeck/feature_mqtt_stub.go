//go:build no_mqtt

package main

import (
	"log/slog"

	"scriptdeck/internal/deck"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *deck.Deck, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
