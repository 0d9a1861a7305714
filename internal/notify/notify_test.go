package notify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hrms.org/internal/obs"
)

// fakeRelay speaks just enough SMTP for net/smtp and records the DATA payload.
func fakeRelay(t *testing.T) (SMTPConfig, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		reply("220 relay ready")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					got <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 relay")
			case strings.HasPrefix(cmd, "DATA"):
				inData = true
				reply("354 go ahead")
			case strings.HasPrefix(cmd, "QUIT"):
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return SMTPConfig{Host: host, Port: p, From: "hr@example.com"}, got
}

func TestSMTPSendDeliversMessage(t *testing.T) {
	cfg, got := fakeRelay(t)
	sender, err := NewSMTP(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sender.Send(ctx, "ann@example.com", "Password Reset", "Click here"))

	select {
	case msg := <-got:
		require.Contains(t, msg, "To: ann@example.com\r\n")
		require.Contains(t, msg, "Subject: Password Reset\r\n")
		require.Contains(t, msg, "Click here")
	case <-time.After(2 * time.Second):
		t.Fatal("relay never received data")
	}
}

func TestSMTPRejectsHeaderInjection(t *testing.T) {
	sender, err := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "hr@example.com"})
	require.NoError(t, err)
	err = sender.Send(context.Background(), "ann@example.com\r\nBcc: eve@example.com", "x", "y")
	require.Error(t, err)
}

func TestSMTPDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	sender, err := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: addr.Port, From: "hr@example.com"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, sender.Send(ctx, "ann@example.com", "s", "b"))
}

func TestNewSMTPValidates(t *testing.T) {
	_, err := NewSMTP(SMTPConfig{From: "hr@example.com"})
	require.Error(t, err)
	_, err = NewSMTP(SMTPConfig{Host: "mail"})
	require.Error(t, err)
}

func TestLogNotifierOmitsBodyByDefault(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })

	require.NoError(t, Log{}.Send(context.Background(), "ann@example.com", "Password Reset", "secret-link"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "notify.message", entry["msg"])
	require.Equal(t, "ann@example.com", entry["recipient"])
	require.NotContains(t, buf.String(), "secret-link")
}
