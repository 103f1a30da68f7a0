package notify

import (
	"context"
	"internship-reporter/internal/components/telemetry"
	"internship-reporter/internal/portal"
	"io"
	"log"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testNotification = portal.Notification{
	Title:   "第3周实习周报",
	Content: "本周完成了接口联调 <b>与</b> 测试。",
	URL:     "http://ids.example.com/authserver/login?service=x&y=z",
}

func TestRender(t *testing.T) {
	body, err := Render(testNotification)
	require.NoError(t, err)

	html := string(body)
	require.Contains(t, html, "第3周实习周报</a>推送成功啦！")
	require.Contains(t, html, "本周完成了接口联调 &lt;b&gt;与&lt;/b&gt; 测试。", "content must be escaped")
	require.Contains(t, html, `href="http://ids.example.com/authserver/login?service=x&amp;y=z"`)
}

func TestPushFailureIsReported(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	tel := telemetry.NewTestAPI(t)
	notifier := NewEmail(SmtpConfig{
		Server:   "127.0.0.1",
		Port:     port,
		Sender:   "bot@example.com",
		Receiver: "student@example.com",
	}, tel)

	require.NotPanics(t, func() {
		notifier.Push(context.Background(), testNotification)
	})
	broken := tel.Reports("broken")
	require.Len(t, broken, 1)
	require.Equal(t, "notify: "+report_email_push, broken[0].ID)
}

// silentServer accepts connections and never greets.
func silentServer(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		var conns []net.Conn
		for {
			conn, err := listener.Accept()
			if err != nil {
				for _, c := range conns {
					c.Close()
				}
				return
			}
			conns = append(conns, conn)
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

func TestPushSilentServerTimesOut(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	notifier := NewEmail(SmtpConfig{
		Server:   "127.0.0.1",
		Port:     silentServer(t),
		Sender:   "bot@example.com",
		Receiver: "student@example.com",
		Timeout:  200 * time.Millisecond,
	}, tel)

	start := time.Now()
	notifier.Push(context.Background(), testNotification)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, tel.Reports("broken"), 1)
}

func TestPushHonorsContext(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	notifier := NewEmail(SmtpConfig{
		Server:   "127.0.0.1",
		Port:     silentServer(t),
		Sender:   "bot@example.com",
		Receiver: "student@example.com",
		Timeout:  time.Hour,
	}, tel)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	notifier.Push(ctx, testNotification)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, tel.Reports("broken"), 1)
}

// plainServer answers a minimal SMTP session without offering AUTH and
// returns what it was sent.
func plainServer(t *testing.T) (int, <-chan string) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		text := textproto.NewConn(conn)
		text.PrintfLine("220 localhost ready")
		var transcript strings.Builder
		for {
			line, err := text.ReadLine()
			if err != nil {
				return
			}
			transcript.WriteString(line + "\n")
			switch {
			case strings.HasPrefix(line, "EHLO"):
				text.PrintfLine("250-localhost")
				text.PrintfLine("250 8BITMIME")
			case line == "DATA":
				text.PrintfLine("354 go ahead")
				body, err := text.ReadDotLines()
				if err != nil {
					return
				}
				transcript.WriteString(strings.Join(body, "\n"))
				text.PrintfLine("250 ok")
			case line == "QUIT":
				text.PrintfLine("221 bye")
				received <- transcript.String()
				return
			default:
				text.PrintfLine("250 ok")
			}
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port, received
}

func TestPushWithoutAuthExtension(t *testing.T) {
	port, received := plainServer(t)
	tel := telemetry.NewTestAPI(t)
	notifier := NewEmail(SmtpConfig{
		Server:   "127.0.0.1",
		Port:     port,
		Sender:   "bot@example.com",
		Password: "secret",
		Receiver: "student@example.com",
		Timeout:  5 * time.Second,
	}, tel)

	notifier.Push(context.Background(), testNotification)
	require.Empty(t, tel.Reports("broken"))

	select {
	case transcript := <-received:
		require.NotContains(t, transcript, "AUTH")
		require.Contains(t, transcript, "MAIL FROM:<bot@example.com>")
		require.Contains(t, transcript, "RCPT TO:<student@example.com>")
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw QUIT")
	}
}

func TestLogPush(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	NewLog(tel).Push(context.Background(), testNotification)
	require.Len(t, tel.Reports("warning"), 1)
}

func TestEmailDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	smtpServer, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1025/tcp", "1080/tcp"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	if err != nil {
		t.Skipf("could not start smtp container: %v", err)
	}
	t.Cleanup(func() {
		err := smtpServer.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	})

	host, err := smtpServer.Host(ctx)
	require.NoError(t, err)
	smtpPort, err := smtpServer.MappedPort(ctx, "1025/tcp")
	require.NoError(t, err)
	webPort, err := smtpServer.MappedPort(ctx, "1080/tcp")
	require.NoError(t, err)

	tel := telemetry.NewTestAPI(t)
	notifier := NewEmail(SmtpConfig{
		Server:   host,
		Port:     smtpPort.Int(),
		Sender:   "bot@example.com",
		Receiver: "student@example.com",
	}, tel)
	notifier.Push(ctx, testNotification)
	require.Empty(t, tel.Reports("broken"))

	client := resty.New().SetTimeout(5 * time.Second)
	var inbox string
	require.Eventually(t, func() bool {
		res, err := client.R().Get("http://" + net.JoinHostPort(host, webPort.Port()) + "/api/emails")
		if err != nil {
			return false
		}
		inbox = res.String()
		return strings.Contains(inbox, "student@example.com")
	}, 10*time.Second, 200*time.Millisecond)
	require.Contains(t, inbox, "推送成功啦")
}
