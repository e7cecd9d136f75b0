package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/homestead-systems/assistant-core/internal/authsvc"
	"github.com/homestead-systems/assistant-core/internal/cache"
	"github.com/homestead-systems/assistant-core/internal/httpserver/middleware"
	"github.com/homestead-systems/assistant-core/internal/order"
)

// cacheMode is the C4 mode this handler memoizes list-normalization
// artifacts under; spec.md §4.4 names "items"/"recipes" as the two modes
// the recipe application uses, and list submission produces items.
const cacheMode = "items"

// OrderHandler exposes the ordering orchestrator's pipeline (C9) as a
// single submit-a-list endpoint; bind/authorize/add/verify/checkout are
// driven server-side as one request. It also fronts stage 1's Normalizer
// call with C4's profile-aware cache, so two identical raw lists from the
// same user with an unchanged profile never re-invoke the (potentially
// expensive, best-effort) external AI collaborator.
type OrderHandler struct {
	pipeline  *order.Pipeline
	normalize order.Normalizer
	auth      *authsvc.Service
	artifacts *cache.Cache
}

// NewOrderHandler builds an OrderHandler. auth and artifacts may be nil, in
// which case every request normalizes uncached (no C4 cache configured).
func NewOrderHandler(pipeline *order.Pipeline, normalize order.Normalizer, auth *authsvc.Service, artifacts *cache.Cache) *OrderHandler {
	return &OrderHandler{pipeline: pipeline, normalize: normalize, auth: auth, artifacts: artifacts}
}

// cachingNormalize wraps h.normalize with a C4 lookup/insert keyed on the
// requesting user's email, a hash of the raw items, cacheMode, and the
// user's current profile fingerprint (spec.md §4.4). A fingerprint mismatch
// (e.g. after a profile edit) or a cold cache falls through to normalize.
func (h *OrderHandler) cachingNormalize(userID primitive.ObjectID, email string) order.Normalizer {
	if h.artifacts == nil || h.auth == nil {
		return h.normalize
	}

	return func(ctx context.Context, rawItems []string) ([]order.Atom, error) {
		fingerprint, err := h.auth.ProfileFingerprint(ctx, userID)
		if err != nil {
			slog.Warn("order_profile_fingerprint_failed", "error", err)
			return h.normalize(ctx, rawItems)
		}

		sum := sha256.Sum256([]byte(strings.Join(rawItems, "\x1f")))
		inputHash := hex.EncodeToString(sum[:])
		key := authsvc.ProfileCacheKey(email, inputHash, cacheMode, fingerprint)

		if raw, ok := h.artifacts.Lookup(key, fingerprint); ok {
			var atoms []order.Atom
			if err := json.Unmarshal(raw, &atoms); err == nil {
				return atoms, nil
			}
		}

		atoms, err := h.normalize(ctx, rawItems)
		if err != nil {
			return nil, err
		}
		if encoded, merr := json.Marshal(atoms); merr == nil {
			if ierr := h.artifacts.Insert(key, cacheMode, fingerprint, encoded); ierr != nil {
				slog.Warn("order_cache_insert_failed", "error", ierr)
			}
		}
		return atoms, nil
	}
}

type submitListRequest struct {
	Username string   `json:"username"`
	Items    []string `json:"items"`
	Checkout bool     `json:"checkout"`
}

type submitListResponse struct {
	Items   []itemOutcome `json:"items"`
	OrderID string        `json:"order_id,omitempty"`
}

type itemOutcome struct {
	ItemName string `json:"item_name"`
	Added    bool   `json:"added"`
	Error    string `json:"error,omitempty"`
}

func (h *OrderHandler) SubmitList(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}

	var req submitListRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "username and a non-empty item list are required")
		return
	}

	accessToken := r.Header.Get("Authorization")
	if len(accessToken) > 7 {
		accessToken = accessToken[7:]
	}

	ctx := r.Context()
	atoms := order.Preprocess(ctx, req.Items, h.cachingNormalize(session.UserID, session.Email), slog.Default())

	svc, err := h.pipeline.BindSession(req.Username)
	if err != nil {
		slog.Error("order_bind_session_failed", "error", err, "username", req.Username)
		writeError(w, http.StatusServiceUnavailable, "external session unavailable")
		return
	}

	if _, err := h.pipeline.Authorize(ctx, accessToken, req.Username, svc); err != nil {
		slog.Error("order_authorize_failed", "error", err, "user_id", session.UserID.Hex())
		writeError(w, http.StatusUnauthorized, "authorization failed")
		return
	}

	results := h.pipeline.AddItems(ctx, svc, atoms, nil)

	resp := submitListResponse{Items: make([]itemOutcome, 0, len(results))}
	for _, res := range results {
		outcome := itemOutcome{ItemName: res.Atom.ItemName, Added: res.Added}
		if res.Err != nil {
			outcome.Error = res.Err.Error()
		}
		resp.Items = append(resp.Items, outcome)
	}

	if err := h.pipeline.VerifyCart(ctx, svc); err != nil {
		slog.Error("order_verify_cart_failed", "error", err, "username", req.Username)
		writeError(w, http.StatusConflict, "cart verification failed")
		return
	}

	if !req.Checkout {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	confirmation, err := h.pipeline.Checkout(ctx, svc,
		func(addrs []order.Address) (string, error) {
			if len(addrs) == 0 {
				return "", order.ErrStoreClosed
			}
			return addrs[0].ID, nil
		},
		func(methods []order.PaymentMethod) (string, error) {
			if len(methods) == 0 {
				return "", order.ErrStoreClosed
			}
			return methods[0].ID, nil
		},
	)
	if err != nil {
		slog.Error("order_checkout_failed", "error", err, "username", req.Username)
		writeError(w, http.StatusConflict, "checkout failed")
		return
	}

	resp.OrderID = confirmation.OrderID
	writeJSON(w, http.StatusOK, resp)
}
