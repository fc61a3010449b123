package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fiskasyela/braintheria-backend/internal/chain"
	"github.com/fiskasyela/braintheria-backend/internal/content"
	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/engine"
	"github.com/fiskasyela/braintheria-backend/internal/engine/auth"
	"github.com/fiskasyela/braintheria-backend/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"question 7 is Answered: only open questions accept answers"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"Answered\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var bearerAuth = []map[string][]string{{"bearerAuth": {}}}

// New returns an HTTP handler exposing the Braintheria API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Braintheria API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, logger: logger}
	registerDocs(router, basePath)
	registerMetrics(router, cfg.Engine)
	registerHealth(group)
	registerQuestions(group, h)
	registerAnswers(group, h)
	registerChain(group, h)
	registerEvents(group, h)
	registerMe(group, h)
	if cfg.Auth.DevLogin {
		logger.Warn("dev login enabled; any caller can mint tokens", "path", path.Join(basePath, "auth/dev/login"))
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// handlers carries what route closures need. handleError logs unexpected
// failures through it.
type handlers struct {
	engine engine.Engine
	logger *slog.Logger
}

func (h handlers) fail(err error) huma.StatusError {
	se := handleError(err)
	if se != nil && se.GetStatus() >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", se.GetStatus(), "error", err)
	}
	return se
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var (
		ve  engine.ValidationError
		nf  engine.NotFoundError
		fe  auth.ForbiddenError
		sa  engine.SelfAnswerError
		ise engine.InvalidStateError
		ife engine.InsufficientFundsError
		su  *content.StorageUnavailableError
		ite *chain.InvalidTransactionError
		tfe *chain.TransactionFailedError
	)
	switch {
	case errors.As(err, &ve):
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &fe):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.As(err, &sa):
		return newAPIError(http.StatusForbidden, "self_answer", err.Error(), map[string]any{"question_id": sa.QuestionID})
	case errors.As(err, &ise):
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"question_id": ise.QuestionID, "status": ise.Status})
	case errors.As(err, &ife):
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_funds", err.Error(), map[string]any{
			"address": ife.Address, "required_wei": ife.Required, "available_wei": ife.Available, "degraded": ife.Degraded,
		})
	case errors.As(err, &su):
		return newAPIError(http.StatusServiceUnavailable, "storage_unavailable", err.Error(), map[string]any{"backend": su.Backend})
	case errors.As(err, &ite):
		return newAPIError(http.StatusBadRequest, "invalid_transaction", err.Error(), map[string]any{"method": ite.Method})
	case errors.As(err, &tfe):
		details := map[string]any{"method": tfe.Method, "reason": tfe.Reason}
		if tfe.Hash != "" {
			details["tx_hash"] = tfe.Hash
		}
		return newAPIError(http.StatusBadGateway, "transaction_failed", err.Error(), details)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerMetrics(r chi.Router, e engine.Engine) {
	if e.Metrics == nil {
		return
	}
	r.Handle("/metrics", promhttp.HandlerFor(e.Metrics.Registry, promhttp.HandlerOpts{}))
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			if oas.Components != nil && oas.Components.Schemas != nil {
				oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
			}
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

// applyAuthSecurity declares the bearer scheme. Operations opt in through
// their own Security field; reads stay anonymous.
func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Braintheria API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type questionPath struct {
	ID int64 `path:"id"`
}

func registerQuestions(api huma.API, h handlers) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID:   "create-question",
		Method:        http.MethodPost,
		Path:          "/questions",
		Summary:       "Ask a question, optionally escrowing a bounty",
		DefaultStatus: http.StatusCreated,
		Security:      bearerAuth,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateQuestionRequest `json:"body"`
	}) (*struct {
		Body CreateQuestionResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.CreateQuestion(ctx, principal, engine.QuestionCreateOptions{
			Title:     input.Body.Title,
			BodyMD:    input.Body.BodyMD,
			Files:     input.Body.Files,
			BountyWei: input.Body.BountyWei,
		})
		var failed *chain.TransactionFailedError
		if err != nil && !(errors.As(err, &failed) && q.ID != 0) {
			return nil, h.fail(err)
		}
		return &struct {
			Body CreateQuestionResponse `json:"body"`
		}{Body: CreateQuestionResponse{Question: q, TxFailed: err != nil}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-questions",
		Method:      http.MethodGet,
		Path:        "/questions",
		Summary:     "List questions with live bounty balances",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Author string `query:"author" doc:"Principal id, or me for the caller"`
		Status string `query:"status" enum:"Open,Answered,Closed"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedQuestions `json:"body"`
	}, error) {
		author := strings.TrimSpace(input.Author)
		if author == "me" {
			principal, authErr := principalFromRequest(ctx)
			if authErr != nil {
				return nil, authErr
			}
			author = principal.ID
		}
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, next, err := e.View().List(ctx, engine.ListFilter{
			AuthorID: author,
			Status:   input.Status,
			Cursor:   cursor,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, h.fail(err)
		}
		resp := paginatedQuestions{Items: nonNilSlice(items)}
		if next > 0 {
			resp.NextCursor = strconv.FormatInt(next, 10)
		}
		return &struct {
			Body paginatedQuestions `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-question",
		Method:      http.MethodGet,
		Path:        "/questions/{id}",
		Summary:     "Get a question with its answers and live bounty",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *questionPath) (*struct {
		Body domain.MergedQuestion `json:"body"`
	}, error) {
		m, err := e.View().Get(ctx, input.ID)
		if err != nil {
			return nil, h.fail(err)
		}
		m.Answers = nonNilSlice(m.Answers)
		return &struct {
			Body domain.MergedQuestion `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-question",
		Method:      http.MethodPatch,
		Path:        "/questions/{id}",
		Summary:     "Edit an open question",
		Security:    bearerAuth,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64                 `path:"id"`
		Body UpdateQuestionRequest `json:"body"`
	}) (*struct {
		Body domain.Question `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.UpdateQuestion(ctx, principal, input.ID, engine.QuestionUpdateOptions{
			Title:  input.Body.Title,
			BodyMD: input.Body.BodyMD,
			Files:  input.Body.Files,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body domain.Question `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "fund-bounty",
		Method:        http.MethodPost,
		Path:          "/questions/{id}/bounty",
		Summary:       "Top up the on-chain bounty",
		DefaultStatus: http.StatusAccepted,
		Security:      bearerAuth,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body FundBountyRequest `json:"body"`
	}) (*struct {
		Body FundBountyResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		hash, err := e.FundBounty(ctx, principal, input.ID, input.Body.AmountWei)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body FundBountyResponse `json:"body"`
		}{Body: FundBountyResponse{QuestionID: input.ID, TxHash: hash}}, nil
	})
}

func registerAnswers(api huma.API, h handlers) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID:   "create-answer",
		Method:        http.MethodPost,
		Path:          "/questions/{id}/answers",
		Summary:       "Answer an open question",
		DefaultStatus: http.StatusCreated,
		Security:      bearerAuth,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body CreateAnswerRequest `json:"body"`
	}) (*struct {
		Body domain.Answer `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAnswer(ctx, principal, input.ID, engine.AnswerCreateOptions{
			BodyMD: input.Body.BodyMD,
			Files:  input.Body.Files,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body domain.Answer `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-answer",
		Method:      http.MethodPost,
		Path:        "/questions/{id}/answers/{answer_id}/accept",
		Summary:     "Accept an answer and release the bounty to its author",
		Description: "The acceptance stands even when the reward transaction cannot be submitted; reward_error reports that case.",
		Security:    bearerAuth,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID       int64 `path:"id"`
		AnswerID int64 `path:"answer_id"`
	}) (*struct {
		Body AcceptResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AcceptAnswer(ctx, principal, input.ID, input.AnswerID)
		if err != nil && res.Question.ID == 0 {
			return nil, h.fail(err)
		}
		resp := AcceptResponse{
			Question:      res.Question,
			Answer:        res.Answer,
			RewardTxHash:  res.RewardTxHash,
			RewardSkipped: res.RewardSkipped,
		}
		if err != nil {
			h.logger.Warn("reward submission failed", "question", input.ID, "answer", input.AnswerID, "error", err)
			resp.RewardError = err.Error()
		}
		return &struct {
			Body AcceptResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerChain(api huma.API, h handlers) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "question-chain-state",
		Method:      http.MethodGet,
		Path:        "/questions/{id}/chain",
		Summary:     "Transaction journal and contract record of a question",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *questionPath) (*struct {
		Body ChainStateResponse `json:"body"`
	}, error) {
		txs, err := e.ChainTxs(ctx, input.ID)
		if err != nil {
			return nil, h.fail(err)
		}
		resp := ChainStateResponse{Transactions: nonNilSlice(txs)}
		oq, err := e.View().Onchain(ctx, input.ID)
		var ise engine.InvalidStateError
		switch {
		case err == nil:
			resp.Onchain = &oq
		case !errors.As(err, &ise):
			return nil, h.fail(err)
		}
		return &struct {
			Body ChainStateResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-chain-questions",
		Method:      http.MethodGet,
		Path:        "/chain/questions",
		Summary:     "Most recent questions as recorded by the contract",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body OnchainListResponse `json:"body"`
	}, error) {
		items, ok := e.View().OnchainList(ctx, normalizeLimit(input.Limit))
		return &struct {
			Body OnchainListResponse `json:"body"`
		}{Body: OnchainListResponse{Items: nonNilSlice(items), Degraded: !ok}}, nil
	})
}

func registerMe(api huma.API, h handlers) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Security:    bearerAuth,
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ID:             principal.ID,
			FundingAddress: principal.FundingAddress,
			Source:         principal.Source,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-wallet",
		Method:      http.MethodPut,
		Path:        "/me/wallet",
		Summary:     "Bind the caller's funding address",
		Security:    bearerAuth,
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body SetWalletRequest `json:"body"`
	}) (*struct {
		Body domain.Wallet `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.BindWallet(ctx, principal, input.Body.Address)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body domain.Wallet `json:"body"`
		}{Body: w}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	ttl := authCfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body" required:"true"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		subject := strings.TrimSpace(input.Body.Subject)
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "sub is required", nil)
		}
		wallet := strings.TrimSpace(input.Body.Wallet)
		if wallet != "" && !chain.ValidAddress(wallet) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "wallet must be a non-zero hex address", nil)
		}
		token, err := auth.SignToken(authCfg.JWTSecret, subject, wallet, ttl)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
