package app

import (
	"log/slog"
	"net/http"
)

type contextKey string

const (
	SessionKeyGuest = contextKey("guest")
	loggerKey       = contextKey("logger")
)

func (k contextKey) String() string {
	return string(k)
}

func (app *Application) contextGetLogger(r *http.Request) *slog.Logger {
	logger, ok := r.Context().Value(loggerKey).(*slog.Logger)
	if !ok {
		return app.logger
	}

	return logger
}

// sessionToken returns the token of the stored session named by the request
// cookie, or "" when there is none.
func (app *Application) sessionToken(r *http.Request) (string, error) {
	cookie, err := r.Cookie(app.sessionManager.Cookie.Name)
	if err != nil {
		return "", nil
	}

	ctx, err := app.sessionManager.Load(r.Context(), cookie.Value)
	if err != nil {
		return "", err
	}

	return app.sessionManager.Token(ctx), nil
}
