package middleware

import (
	"net/http"
	"strconv"

	"github.com/docsmith/docsmith/internal/api/models"
	"github.com/docsmith/docsmith/internal/featureflags"
)

// OnlineHeader carries the client's connectivity ("true" or "false") so the
// feature gate can apply its offline rule.
const OnlineHeader = "X-Docsmith-Online"

// OnlineHint copies OnlineHeader into the request context. Requests without
// the header fall back to the gate's configured connectivity check; values
// that are not booleans get 400.
func OnlineHint(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(OnlineHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		online, err := strconv.ParseBool(raw)
		if err != nil {
			problem := models.NewBadRequest(GetRequestID(r.Context()), OnlineHeader+" must be true or false", []models.FieldError{
				{Field: OnlineHeader, Message: "must be a boolean", Code: models.CodeInvalid},
			})
			problem.Instance = r.URL.Path
			problem.Write(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(featureflags.WithOnline(r.Context(), online)))
	})
}
