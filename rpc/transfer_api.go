package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/alphabill-org/transferout/logger"
	"github.com/alphabill-org/transferout/transfer"
	"github.com/alphabill-org/transferout/translog"
	"github.com/alphabill-org/transferout/types"
)

type (
	transferService interface {
		TransferOut(ctx context.Context, req *types.TransferRequest) bool
		Recover(ctx context.Context) ([]uuid.UUID, error)
		RecoverTransaction(ctx context.Context, txID uuid.UUID) (uuid.UUID, error)
		InProgress() bool
		Pending() bool
		Current() *types.TransactionState
		Providers() *transfer.Registry
	}

	transactionLog interface {
		Get(id uuid.UUID) (*types.TransactionState, error)
		Pending() ([]*types.TransactionState, error)
		Archived() ([]*types.TransactionState, error)
	}

	// amounts in currency units, ie "12.34"
	currencyAmounts struct {
		Cashable decimal.Decimal `json:"cashable"`
		Promo    decimal.Decimal `json:"promo"`
		NonCash  decimal.Decimal `json:"nonCash"`
	}

	transferRequest struct {
		TransactionID          uuid.UUID                `json:"transactionId"`
		TraceID                uuid.UUID                `json:"traceId"`
		Amounts                currencyAmounts          `json:"amounts"`
		AssociatedTransactions []int64                  `json:"associatedTransactions,omitempty"`
		Reason                 *types.TransferOutReason `json:"reason"`
		ProviderHint           types.ProviderID         `json:"providerHint,omitempty"`
	}

	transferResponse struct {
		TransactionID uuid.UUID `json:"transactionId"`
		TraceID       uuid.UUID `json:"traceId"`
	}

	recoverResponse struct {
		Traces []uuid.UUID `json:"traces"`
	}

	statusResponse struct {
		InProgress bool             `json:"inProgress"`
		Pending    bool             `json:"pending"`
		Current    *transactionInfo `json:"current,omitempty"`
		Providers  []providerInfo   `json:"providers"`
	}

	providerInfo struct {
		ID       types.ProviderID `json:"id"`
		Priority int              `json:"priority"`
		Active   bool             `json:"active"`
		Timeout  string           `json:"timeout,omitempty"`
	}

	transactionInfo struct {
		*types.TransactionState
		RequestedTotal   string `json:"requestedTotal"`
		TransferredTotal string `json:"transferredTotal"`
	}
)

/*
TransferEndpoints registers the operator endpoints of the transfer coordinator.
Transfers and recoveries started via API run with context "ctx", not the
request context, so that client disconnecting doesn't cancel them.
*/
func TransferEndpoints(ctx context.Context, svc transferService, txLog transactionLog, log *slog.Logger) Endpoints {
	return func(r *mux.Router) {
		r.HandleFunc("/status", statusHandler(svc, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc("/providers", providersHandler(svc, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc("/transfers", transferHandler(ctx, svc, log)).Methods(http.MethodPost, http.MethodOptions)
		r.HandleFunc("/recover", recoverHandler(ctx, svc, log)).Methods(http.MethodPost, http.MethodOptions)
		r.HandleFunc("/recover/{txId}", recoverTransactionHandler(ctx, svc, log)).Methods(http.MethodPost, http.MethodOptions)
		r.HandleFunc("/transactions", transactionsHandler(txLog, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc("/transactions/{txId}", transactionHandler(txLog, log)).Methods(http.MethodGet, http.MethodOptions)
	}
}

func statusHandler(svc transferService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp := statusResponse{
			InProgress: svc.InProgress(),
			Pending:    svc.Pending(),
			Providers:  providerList(svc.Providers()),
		}
		if ts := svc.Current(); ts != nil {
			rsp.Current = newTransactionInfo(ts)
		}
		writeResponse(w, r, log, http.StatusOK, rsp)
	}
}

func providersHandler(svc transferService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, r, log, http.StatusOK, providerList(svc.Providers()))
	}
}

func transferHandler(ctx context.Context, svc transferService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var body transferRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, log, http.StatusBadRequest, fmt.Errorf("failed to parse transfer request: %w", err))
			return
		}
		req, err := body.toTransferRequest()
		if err != nil {
			writeError(w, r, log, http.StatusBadRequest, err)
			return
		}
		if req.ProviderHint != "" {
			if _, err := svc.Providers().Lookup(req.ProviderHint); err != nil {
				invalidParam(w, r, log, "providerHint", err)
				return
			}
		}

		if !svc.TransferOut(ctx, req) {
			writeError(w, r, log, http.StatusConflict, errors.New("transfer or recovery is in progress"))
			return
		}
		log.InfoContext(r.Context(), fmt.Sprintf("transfer of %s accepted", req.Amounts), logger.TraceID(req.TraceID))
		writeResponse(w, r, log, http.StatusAccepted, transferResponse{TransactionID: req.TransactionID, TraceID: req.TraceID})
	}
}

func recoverHandler(ctx context.Context, svc transferService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traces, err := svc.Recover(ctx)
		if err != nil {
			writeError(w, r, log, recoverErrorCode(err), fmt.Errorf("recovery failed: %w", err))
			return
		}
		if traces == nil {
			traces = []uuid.UUID{}
		}
		writeResponse(w, r, log, http.StatusOK, recoverResponse{Traces: traces})
	}
}

func recoverTransactionHandler(ctx context.Context, svc transferService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txID, err := uuid.Parse(mux.Vars(r)["txId"])
		if err != nil {
			invalidParam(w, r, log, "txId", err)
			return
		}
		trace, err := svc.RecoverTransaction(ctx, txID)
		if err != nil {
			writeError(w, r, log, recoverErrorCode(err), fmt.Errorf("recovery of %s failed: %w", txID, err))
			return
		}
		rsp := recoverResponse{Traces: []uuid.UUID{}}
		if trace != uuid.Nil {
			rsp.Traces = append(rsp.Traces, trace)
		}
		writeResponse(w, r, log, http.StatusOK, rsp)
	}
}

func recoverErrorCode(err error) int {
	if errors.Is(err, transfer.ErrBusy) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func transactionsHandler(txLog transactionLog, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var list []*types.TransactionState
		var err error
		switch state := r.URL.Query().Get("state"); state {
		case "", "pending":
			list, err = txLog.Pending()
		case "archived":
			list, err = txLog.Archived()
		case "all":
			if list, err = txLog.Pending(); err == nil {
				var archived []*types.TransactionState
				archived, err = txLog.Archived()
				list = append(list, archived...)
			}
		default:
			invalidParam(w, r, log, "state", fmt.Errorf("expected one of pending, archived, all, got %q", state))
			return
		}
		if err != nil {
			writeError(w, r, log, http.StatusInternalServerError, fmt.Errorf("reading transaction log: %w", err))
			return
		}

		rsp := make([]*transactionInfo, len(list))
		for i, ts := range list {
			rsp[i] = newTransactionInfo(ts)
		}
		writeResponse(w, r, log, http.StatusOK, rsp)
	}
}

func transactionHandler(txLog transactionLog, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txID, err := uuid.Parse(mux.Vars(r)["txId"])
		if err != nil {
			invalidParam(w, r, log, "txId", err)
			return
		}
		ts, err := txLog.Get(txID)
		switch {
		case errors.Is(err, translog.ErrNotFound):
			writeError(w, r, log, http.StatusNotFound, err)
		case err != nil:
			writeError(w, r, log, http.StatusInternalServerError, err)
		default:
			writeResponse(w, r, log, http.StatusOK, newTransactionInfo(ts))
		}
	}
}

func (tr *transferRequest) toTransferRequest() (*types.TransferRequest, error) {
	if tr.Reason == nil {
		return nil, errors.New("transfer out reason is required")
	}
	amounts, err := tr.Amounts.millicents()
	if err != nil {
		return nil, err
	}
	req := &types.TransferRequest{
		TransactionID:          tr.TransactionID,
		TraceID:                tr.TraceID,
		Amounts:                amounts,
		AssociatedTransactions: tr.AssociatedTransactions,
		Reason:                 *tr.Reason,
		ProviderHint:           tr.ProviderHint,
	}
	if req.TraceID == uuid.Nil {
		req.TraceID = uuid.New()
	}
	if err := req.IsValid(); err != nil {
		return nil, err
	}
	return req, nil
}

func (ca currencyAmounts) millicents() (a types.Amounts, err error) {
	if a.Cashable, err = types.ParseCurrency(ca.Cashable.String()); err != nil {
		return a, fmt.Errorf("cashable: %w", err)
	}
	if a.Promo, err = types.ParseCurrency(ca.Promo.String()); err != nil {
		return a, fmt.Errorf("promo: %w", err)
	}
	if a.NonCash, err = types.ParseCurrency(ca.NonCash.String()); err != nil {
		return a, fmt.Errorf("non-cash: %w", err)
	}
	return a, nil
}

func providerList(reg *transfer.Registry) []providerInfo {
	entries := reg.Ordered()
	rsp := make([]providerInfo, len(entries))
	for i, e := range entries {
		rsp[i] = providerInfo{
			ID:       e.ID,
			Priority: i + 1,
			Active:   e.Provider.Active(),
		}
		if e.Timeout > 0 {
			rsp[i].Timeout = e.Timeout.String()
		}
	}
	return rsp
}

func newTransactionInfo(ts *types.TransactionState) *transactionInfo {
	return &transactionInfo{
		TransactionState: ts,
		RequestedTotal:   types.FormatMillicents(ts.Requested.Total()),
		TransferredTotal: types.FormatMillicents(ts.Transferred.Total()),
	}
}
