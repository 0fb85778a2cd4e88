// Package world defines the boundary between the gateway core and the
// game-host platform. The host side (event hooks, command registration, chat
// styling) lives outside this module; the gateway only needs somewhere to
// deliver announcements and relayed chat.
package world

import (
	"github.com/sirupsen/logrus"
)

// World receives everything the gateway wants shown to in-world participants.
// Implementations own all presentation concerns; the gateway hands over
// display names and plain text only.
type World interface {
	// AnnounceJoin is called when a previously linked client reconnects.
	AnnounceJoin(username string)
	// AnnounceLeave is called when an authenticated client disconnects.
	AnnounceLeave(username string)
	// AnnounceAuthSuccess is called when a client links for the first time.
	AnnounceAuthSuccess(username string)
	// SendChat delivers a chat message from an external client to the world.
	SendChat(username, message string)
}

// LogWorld writes announcements and chat to the application log. It stands in
// for the game host when the gateway runs standalone.
type LogWorld struct {
	Logger *logrus.Logger
}

func NewLogWorld(logger *logrus.Logger) *LogWorld {
	return &LogWorld{Logger: logger}
}

func (w *LogWorld) AnnounceJoin(username string) {
	w.Logger.Infof("[WORLD] %s has joined the chat", username)
}

func (w *LogWorld) AnnounceLeave(username string) {
	w.Logger.Infof("[WORLD] %s has left the chat", username)
}

func (w *LogWorld) AnnounceAuthSuccess(username string) {
	w.Logger.Infof("[WORLD] %s has successfully authenticated", username)
}

func (w *LogWorld) SendChat(username, message string) {
	w.Logger.Infof("[WORLD] %s: %s", username, message)
}
