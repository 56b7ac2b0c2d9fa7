package marionette

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

// fakeServer accepts one connection, writes a handshake frame, then
// answers every request it receives, in arrival order, with the canned
// response respond builds from the request's msg_id, name and params.
func fakeServer(t *testing.T, handshakeProtocol int, respond func(id int32, name string, params interface{}) []interface{}) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		hs, _ := json.Marshal(map[string]interface{}{
			"marionetteProtocol": handshakeProtocol,
			"applicationType":    "gecko",
		})
		conn.Write(EncodeFrame(hs))

		for {
			decoded, err := readOneFrame(conn)
			if err != nil {
				return
			}
			var tuple []json.RawMessage
			if err := json.Unmarshal(decoded, &tuple); err != nil || len(tuple) != 4 {
				return
			}
			var id int32
			var name string
			var params interface{}
			json.Unmarshal(tuple[1], &id)
			json.Unmarshal(tuple[2], &name)
			json.Unmarshal(tuple[3], &params)

			out := respond(id, name, params)
			payload, _ := json.Marshal(out)
			conn.Write(EncodeFrame(payload))
		}
	}()

	return ln.Addr().String()
}

// readOneFrame reads exactly one netstring frame off conn without
// needing a *bufio.Reader (the fake server reads raw bytes directly).
func readOneFrame(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for {
		if _, err := conn.Read(one); err != nil {
			return nil, err
		}
		if one[0] == ':' {
			break
		}
		buf = append(buf, one[0])
	}
	length := 0
	for _, d := range buf {
		length = length*10 + int(d-'0')
	}
	payload := make([]byte, length)
	total := 0
	for total < length {
		n, err := conn.Read(payload[total:])
		if err != nil {
			return nil, err
		}
		total += n
	}
	return payload, nil
}

func TestConnectAndCallRoundTrip(t *testing.T) {
	addr := fakeServer(t, 3, func(id int32, name string, params interface{}) []interface{} {
		return []interface{}{1, id, nil, map[string]interface{}{"sessionId": "sess-1"}}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, addr, time.Second)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	result, err := conn.Call(ctx, "WebDriver:NewSession", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := result.Get("sessionId").Str(); got != "sess-1" {
		t.Errorf("sessionId = %q, want sess-1", got)
	}
}

func TestConnectRejectsUnsupportedProtocol(t *testing.T) {
	addr := fakeServer(t, 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, addr, time.Second)
	if err == nil {
		t.Fatal("expected an error connecting with an unsupported protocol version")
	}
}

func TestCallFailsAllWaitersOnConnectionLoss(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		hs, _ := json.Marshal(map[string]interface{}{"marionetteProtocol": 3, "applicationType": "gecko"})
		conn.Write(EncodeFrame(hs))
		conn.Close() // immediately drop the connection
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Call(ctx, "WebDriver:NewSession", map[string]interface{}{}); err == nil {
		t.Fatal("expected Call() to fail after the server closed the connection")
	}
}
