package models

import (
	"fmt"
	"time"
)

// Account is a configured mail account. Its password is kept in the secret store, never here.
type Account struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	IMAPHost  string    `json:"imap_host"`
	IMAPPort  int       `json:"imap_port"`
	SMTPHost  string    `json:"smtp_host"`
	SMTPPort  int       `json:"smtp_port"`
	UseTLS    bool      `json:"use_tls"`
	CreatedAt time.Time `json:"created_at"`
}

// IMAPAddress returns host:port for dialing.
func (a *Account) IMAPAddress() string {
	port := a.IMAPPort
	if port == 0 {
		port = 993
	}
	return fmt.Sprintf("%s:%d", a.IMAPHost, port)
}

// LoginName returns the IMAP username, which defaults to the email.
func (a *Account) LoginName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Email
}

// AccountRequest is the payload for creating or editing an account.
type AccountRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	IMAPHost string `json:"imap_host"`
	IMAPPort int    `json:"imap_port"`
	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	UseTLS   *bool  `json:"use_tls"`
}

// ToAccount converts the request into an Account. UseTLS defaults to true.
func (r *AccountRequest) ToAccount() *Account {
	useTLS := true
	if r.UseTLS != nil {
		useTLS = *r.UseTLS
	}
	return &Account{
		Email:    r.Email,
		Username: r.Username,
		IMAPHost: r.IMAPHost,
		IMAPPort: r.IMAPPort,
		SMTPHost: r.SMTPHost,
		SMTPPort: r.SMTPPort,
		UseTLS:   useTLS,
	}
}
