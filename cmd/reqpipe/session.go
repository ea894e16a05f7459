package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	reqpipe "github.com/AnandSundar/go-reqpipe"
)

// LoginCmd stores a session token obtained elsewhere.
type LoginCmd struct {
	root *Options

	Token       string   `long:"token" description:"bearer token" required:"yes"`
	Remember    bool     `long:"remember" description:"keep the session for seven days"`
	Identity    string   `long:"identity" description:"identity as a JSON object"`
	Permissions []string `long:"permission" description:"granted permission (repeatable)"`
}

func (c *LoginCmd) Execute(_ []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, c.root)
	if err != nil {
		return err
	}
	defer a.Close()

	var identity map[string]any
	if strings.TrimSpace(c.Identity) != "" {
		if err := json.Unmarshal([]byte(c.Identity), &identity); err != nil {
			return fmt.Errorf("parse identity: %w", err)
		}
	}

	sess, err := a.client.Sessions().Login(ctx, reqpipe.Credentials{
		Token:       c.Token,
		Remember:    c.Remember,
		Identity:    identity,
		Permissions: c.Permissions,
	})
	if err != nil {
		return err
	}
	a.logger.Info("signed in", "profile", a.cfg.Profile, "expires", sess.ExpiresAt, "token", sess.Token)
	return nil
}

// LogoutCmd destroys the stored session.
type LogoutCmd struct {
	root *Options
}

func (c *LogoutCmd) Execute(_ []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, c.root)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.client.Logout(ctx)
}

// WhoamiCmd prints the stored session without its token.
type WhoamiCmd struct {
	root *Options
}

func (c *WhoamiCmd) Execute(_ []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, c.root)
	if err != nil {
		return err
	}
	defer a.Close()

	sess := a.client.Sessions().Current(ctx)
	if sess == nil {
		return fmt.Errorf("not signed in")
	}
	return printJSON(a.out, map[string]any{
		"profile":     a.cfg.Profile,
		"issuedAt":    sess.IssuedAt,
		"expiresAt":   sess.ExpiresAt,
		"remember":    sess.Remember,
		"identity":    sess.Identity,
		"permissions": sess.Permissions,
	}, a.color)
}
