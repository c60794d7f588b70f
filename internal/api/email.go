package api

import (
	"errors"
	"log"
	"net/smtp"
	"os"
	"strings"
	"time"
)

// sendMailWithTimeout runs fn and returns error if it doesn't complete within timeout.
// It does not forcibly cancel the underlying network dial; it's a soft timeout suitable for notification flows.
func sendMailWithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("smtp send timed out")
	}
}

// SendInviteEmail emails a workspace invite link. Best-effort: the invite
// exists regardless, and the token can also be copied from the API response.
func SendInviteEmail(to, workspaceName, token string) {
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("SMTP_FROM")
	if host == "" || port == "" || from == "" {
		return
	}
	fe := strings.TrimRight(getEnvAny("REEL_FRONTEND_BASE_URL", "FRONTEND_BASE_URL"), "/")
	link := fe + "/invites/accept?token=" + token

	addr := host + ":" + port
	msg := []byte("To: " + to + "\r\n" +
		"Subject: You're invited to " + workspaceName + " on Reel\r\n" +
		"MIME-version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		"You've been invited to join the \"" + workspaceName + "\" workspace on Reel.\r\n\r\n" +
		"Accept the invite: " + link + "\r\n\r\n" +
		"The invite expires in 7 days.\r\n")
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}

	cb := GetBreaker("smtp_send")
	if !cb.Allow() {
		return
	}
	start := time.Now()
	err := sendMailWithTimeout(5*time.Second, func() error {
		return smtp.SendMail(addr, auth, from, []string{to}, msg)
	})
	RecordExternalOp("smtp_send", time.Since(start), err == nil)
	if err != nil {
		cb.ReportFailure()
		log.Printf("invite email to %s failed: %v", to, err)
		return
	}
	cb.ReportSuccess()
}
