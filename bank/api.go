package bank

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alovak/bankcards/bank/models"
	"github.com/alovak/bankcards/internal/middleware"
)

// API is a HTTP API for the bankcards service. Caller identity comes from the
// authenticating proxy headers.
type API struct {
	svc *Services
}

func NewAPI(svc *Services) *API {
	return &API{
		svc: svc,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdmin)
		r.Route("/cards", func(r chi.Router) {
			r.Post("/", a.createCard)
			r.Get("/{cardID}", a.getCard)
			r.Patch("/{cardID}/status", a.updateCardStatus)
			r.Delete("/{cardID}", a.deleteCard)
		})
		r.Route("/cardholders", func(r chi.Router) {
			r.Get("/{cardholderID}", a.getCardholder)
			r.Put("/{cardholderID}/block", a.blockCardholder)
			r.Delete("/{cardholderID}", a.deleteCardholder)
		})
	})

	r.Route("/api/cardholder", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Get("/cards", a.listOwnCards)
		r.Patch("/cards/{cardID}/block", a.requestBlock)
		r.Get("/cards/{cardID}/balance", a.getBalance)
		r.Get("/cards/{cardID}/transactions", a.getTransactions)
		r.Post("/transfer", a.transfer)
	})
}

func (a *API) createCard(w http.ResponseWriter, r *http.Request) {
	create := models.CreateCardRequest{}
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if create.CardholderID == "" {
		http.Error(w, "cardholderId is required", http.StatusBadRequest)
		return
	}

	card, err := a.svc.Cards.Create(r.Context(), create.CardholderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (a *API) getCard(w http.ResponseWriter, r *http.Request) {
	card, err := a.svc.Cards.Get(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// updateCardStatus takes the status from the JSON body {"newStatus": "..."}
// or, like the admin console does, from ?status=.
func (a *API) updateCardStatus(w http.ResponseWriter, r *http.Request) {
	req := models.UpdateStatusRequest{NewStatus: r.URL.Query().Get("status")}
	if req.NewStatus == "" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := a.svc.Cards.SetStatus(r.Context(), chi.URLParam(r, "cardID"), req.NewStatus); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteCard(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Cards.Delete(r.Context(), chi.URLParam(r, "cardID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getCardholder(w http.ResponseWriter, r *http.Request) {
	holder, err := a.svc.Cardholders.Get(r.Context(), chi.URLParam(r, "cardholderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holder)
}

func (a *API) blockCardholder(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Cardholders.Block(r.Context(), chi.URLParam(r, "cardholderID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteCardholder(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Cardholders.Delete(r.Context(), chi.URLParam(r, "cardholderID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listOwnCards(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cards, err := a.svc.Cards.FindOwnedBy(r.Context(), middleware.Username(r.Context()), r.URL.Query().Get("search"), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (a *API) requestBlock(w http.ResponseWriter, r *http.Request) {
	err := a.svc.Cards.RequestBlock(r.Context(), middleware.Username(r.Context()), chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardID")
	balance, err := a.svc.Transfers.Balance(r.Context(), middleware.Username(r.Context()), cardID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		CardID  string `json:"cardId"`
		Balance string `json:"balance"`
	}{cardID, balance.StringFixed(2)})
}

func (a *API) getTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := a.svc.Transfers.History(r.Context(), middleware.Username(r.Context()), chi.URLParam(r, "cardID"), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	req := models.TransferRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.svc.Transfers.Transfer(r.Context(), middleware.Username(r.Context()), req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pageFromQuery reads page, size and sort (e.g. sort=balance,asc).
func pageFromQuery(r *http.Request) (models.PageRequest, error) {
	q := r.URL.Query()
	var (
		page models.PageRequest
		err  error
	)
	if v := q.Get("page"); v != "" {
		if page.Page, err = strconv.Atoi(v); err != nil {
			return page, errors.New("page must be a number")
		}
	}
	if v := q.Get("size"); v != "" {
		if page.Size, err = strconv.Atoi(v); err != nil {
			return page, errors.New("size must be a number")
		}
	}
	if page.Sort, page.Asc, err = models.ParseSort(q.Get("sort")); err != nil {
		return page, err
	}
	return page.Normalize(), nil
}

func statusFor(err error) int {
	switch KindOf(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAccessDenied:
		return http.StatusForbidden
	case ErrInvalidState:
		return http.StatusConflict
	case ErrInsufficientFunds:
		return http.StatusUnprocessableEntity
	case ErrInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		// details are in the audit log
		msg = http.StatusText(code)
	}
	http.Error(w, msg, code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
