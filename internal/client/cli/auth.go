package cli

import (
	"context"
)

// getSecret is an indirection used to facilitate testing.
var getSecret = GetSecret

// Token reads an access token without echo, stores it and asks for a
// pass so queued changes go out right away.
func (a *App) Token(ctx context.Context) error {
	token, err := getSecret("Enter access token", a.out)
	if err != nil {
		return err
	}
	if err := a.auth.SaveToken(ctx, string(token)); err != nil {
		return err
	}
	a.scheduler.Trigger()
	printlnFn("Token saved")
	return nil
}

// Logout forgets the token. Local data and queued changes are kept and
// go out after the next `token`.
func (a *App) Logout(ctx context.Context) error {
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	printlnFn("Logged out")
	return nil
}
