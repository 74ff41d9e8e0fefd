// Package errclass maps fetch failures onto a fixed set of error kinds and
// produces the user-facing message bundle shown for each kind.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is the classification of a failure.
type Kind string

const (
	KindNetwork        Kind = "NETWORK"
	KindAuthentication Kind = "AUTHENTICATION"
	KindServer         Kind = "SERVER"
	KindTimeout        Kind = "TIMEOUT"
	KindValidation     Kind = "VALIDATION"
	KindUnknown        Kind = "UNKNOWN"
)

// Severity of the message surfaced to the user.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Named is implemented by errors that carry a name in addition to their
// message, e.g. errors decoded from a browser adapter ("TypeError").
type Named interface {
	Name() string
}

// Tokens are matched case-insensitively against the error message and name.
// The order of the rules below is the classification precedence.
var rules = []struct {
	kind   Kind
	tokens []string
}{
	{KindNetwork, []string{"typeerror", "fetch", "network", "connection"}},
	{KindAuthentication, []string{"401", "403", "unauthorized", "forbidden", "session"}},
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded", "aborterror"}},
	{KindServer, []string{"500", "502", "503", "504", "server"}},
	{KindValidation, []string{"400", "422", "validation", "invalid", "bad request"}},
}

// Classify returns the kind of err. It is a pure function of the error's
// message and name; a nil error is UNKNOWN.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	text := strings.ToLower(err.Error() + " " + errorName(err))
	for _, r := range rules {
		for _, tok := range r.tokens {
			if strings.Contains(text, tok) {
				return r.kind
			}
		}
	}
	return KindUnknown
}

// errorName derives a name for err. Explicitly named errors win; otherwise
// a few well-known Go error types are given the name a browser would use.
func errorName(err error) string {
	var named Named
	if errors.As(err, &named) {
		return named.Name()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "TimeoutError"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "TimeoutError"
		}
		return "NetworkError"
	}
	return ""
}

// Description is the message bundle rendered for a terminal error.
type Description struct {
	Kind        Kind     `json:"kind"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	CanRetry    bool     `json:"can_retry"`
	Severity    Severity `json:"severity"`
}

// Describe returns the fixed message bundle for kind. sectionName is
// interpolated into the message.
func Describe(kind Kind, sectionName string) Description {
	if sectionName == "" {
		sectionName = "os dados"
	}
	switch kind {
	case KindNetwork:
		return Description{
			Kind:    kind,
			Title:   "Erro de conexão",
			Message: fmt.Sprintf("Não foi possível conectar ao servidor para carregar %s.", sectionName),
			Suggestions: []string{
				"Verifique sua conexão com a internet",
				"Confirme que o sistema de regulação está acessível",
				"Tente novamente em alguns instantes",
			},
			CanRetry: true,
			Severity: SeverityWarning,
		}
	case KindAuthentication:
		return Description{
			Kind:    kind,
			Title:   "Sessão expirada",
			Message: fmt.Sprintf("Sua sessão expirou ou você não tem permissão para acessar %s.", sectionName),
			Suggestions: []string{
				"Faça login novamente no sistema de regulação",
				"Verifique suas permissões de acesso",
			},
			CanRetry: false,
			Severity: SeverityError,
		}
	case KindTimeout:
		return Description{
			Kind:    kind,
			Title:   "Tempo esgotado",
			Message: fmt.Sprintf("O servidor demorou muito para responder ao carregar %s.", sectionName),
			Suggestions: []string{
				"Reduza o período de datas pesquisado",
				"Tente novamente em alguns instantes",
			},
			CanRetry: true,
			Severity: SeverityWarning,
		}
	case KindServer:
		return Description{
			Kind:    kind,
			Title:   "Erro no servidor",
			Message: fmt.Sprintf("O servidor encontrou um erro ao carregar %s.", sectionName),
			Suggestions: []string{
				"Aguarde alguns minutos e tente novamente",
				"Se o problema persistir, contate o suporte",
			},
			CanRetry: true,
			Severity: SeverityError,
		}
	case KindValidation:
		return Description{
			Kind:    kind,
			Title:   "Dados inválidos",
			Message: fmt.Sprintf("Os parâmetros de busca de %s não foram aceitos pelo servidor.", sectionName),
			Suggestions: []string{
				"Verifique as datas informadas nos filtros",
				"Limpe os filtros e tente novamente",
			},
			CanRetry: false,
			Severity: SeverityWarning,
		}
	default:
		return Description{
			Kind:    KindUnknown,
			Title:   "Erro inesperado",
			Message: fmt.Sprintf("Ocorreu um erro inesperado ao carregar %s.", sectionName),
			Suggestions: []string{
				"Tente novamente",
				"Recarregue a página se o problema persistir",
			},
			CanRetry: true,
			Severity: SeverityError,
		}
	}
}

// RetainsData reports whether previously loaded data is kept when a fetch
// ends in a terminal error of this kind.
func RetainsData(kind Kind) bool {
	return kind == KindAuthentication || kind == KindValidation
}
