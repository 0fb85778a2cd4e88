// This tool is a minimal terminal chat client for the MineChat gateway. It
// authenticates with either a link code (first run) or a previously linked
// client ID, then relays stdin lines as chat messages.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/winlogon/minechat/internal/protocol"
)

var (
	addr       = flag.String("addr", "localhost:25575", "Address of the gateway.")
	clientUUID = flag.String("uuid", "", "Client ID to authenticate with (default: newly generated).")
	linkCode   = flag.String("code", "", "Link code to redeem (omit to re-authenticate an existing ID).")
)

var titleCaser = cases.Title(language.English)

func main() {
	flag.Parse()

	id := *clientUUID
	if id == "" {
		id = uuid.NewString()
		fmt.Println("generated client id:", id)
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Println("error connecting to gateway:", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := sendFrame(conn, protocol.TypeAuth, protocol.Auth{ClientUUID: id, LinkCode: *linkCode}); err != nil {
		fmt.Println("error sending auth:", err)
		os.Exit(1)
	}

	go receiveLoop(conn)

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		message := strings.TrimSpace(stdin.Text())
		if message == "" {
			continue
		}
		if message == "/quit" {
			_ = sendFrame(conn, protocol.TypeDisconnect, struct{}{})
			return
		}
		if err := sendFrame(conn, protocol.TypeChat, protocol.Chat{Message: message}); err != nil {
			fmt.Println("error sending chat:", err)
			os.Exit(1)
		}
	}
}

// sendFrame writes one {type, payload} line. The client builds envelopes
// directly since protocol.Encode only covers server-to-client frames.
func sendFrame(conn net.Conn, frameType string, payload interface{}) error {
	frame := map[string]interface{}{"type": frameType, "payload": payload}
	line, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(line, '\n'))
	return err
}

func receiveLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		printFrame(scanner.Bytes())
	}
	fmt.Println("disconnected from gateway")
	os.Exit(0)
}

func printFrame(line []byte) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return
	}

	switch env.Type {
	case protocol.TypeAuthAck:
		var ack protocol.AuthAck
		if json.Unmarshal(env.Payload, &ack) != nil {
			return
		}
		fmt.Printf("<%s> %s\n", titleCaser.String(ack.Status), ack.Message)
		if ack.Status == protocol.StatusFailure {
			os.Exit(1)
		}
	case protocol.TypeBroadcast:
		var b protocol.Broadcast
		if json.Unmarshal(env.Payload, &b) != nil {
			return
		}
		fmt.Printf("%s: %s\n", b.From, b.Message)
	case protocol.TypeSystem:
		var s protocol.System
		if json.Unmarshal(env.Payload, &s) != nil {
			return
		}
		fmt.Printf("* [%s] %s\n", titleCaser.String(s.Event), s.Message)
	}
}
