package collect

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/resilience"
)

// FTPSource reads a lead drop from an FTP server. Credentials come from the
// URL userinfo; without them the login is anonymous.
type FTPSource struct {
	URL     string
	Format  string
	Timeout time.Duration
	CSV     CSVOptions
	Meta    Meta
	Retry   resilience.RetryConfig
}

type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

// parseFTPURL extracts host (with port), path and credentials from an FTP URL.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", password: "anonymous@"}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if t.path == "" || t.path == "/" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}
	if u.User != nil && u.User.Username() != "" {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

func (s *FTPSource) Stream(ctx context.Context, out chan<- model.Observation) error {
	target, err := parseFTPURL(s.URL)
	if err != nil {
		return err
	}
	format, err := formatFor(s.Format, target.path)
	if err != nil {
		return err
	}

	conn, resp, err := s.retrieve(ctx, target)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Close(); err != nil {
			zap.L().Debug("ftp: close response", zap.Error(err))
		}
		if err := conn.Quit(); err != nil {
			zap.L().Debug("ftp: quit", zap.Error(err))
		}
	}()

	meta := s.Meta
	if meta.SourceURL == "" {
		meta.SourceURL = redactURL(s.URL)
	}
	return decodeStream(ctx, resp, format, s.CSV, meta, out)
}

// retrieve dials, logs in and opens the file. Dial failures are retried.
func (s *FTPSource) retrieve(ctx context.Context, t ftpTarget) (*ftp.ServerConn, *ftp.Response, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retry := s.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("collect", "ftp dial")
	}

	zap.L().Debug("ftp: connecting", zap.String("host", t.host), zap.String("path", t.path))

	var conn *ftp.ServerConn
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		c, err := ftp.Dial(t.host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "ftp dial"), 0)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if err := conn.Login(t.user, t.password); err != nil {
		_ = conn.Quit()
		return nil, nil, eris.Wrap(err, "ftp login")
	}
	resp, err := conn.Retr(t.path)
	if err != nil {
		_ = conn.Quit()
		return nil, nil, eris.Wrapf(err, "ftp retrieve %s", t.path)
	}
	return conn, resp, nil
}

// redactURL drops any password so it never lands in snapshots or logs.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}
