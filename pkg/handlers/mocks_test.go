package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-gateway/pkg/guard"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-gateway/pkg/pivot"
	"github.com/ekaya-inc/ekaya-gateway/pkg/workbench"
)

// stubAuth authenticates any request carrying an Authorization header as qc.
type stubAuth struct {
	qc *models.QueryContext
}

func (s *stubAuth) ValidateRequest(r *http.Request) (*auth.Claims, *models.QueryContext, error) {
	if r.Header.Get("Authorization") == "" {
		return nil, nil, auth.ErrMissingAuthorization
	}
	return &auth.Claims{}, s.qc, nil
}

func authMiddleware(qc *models.QueryContext) *auth.Middleware {
	return auth.NewMiddleware(&stubAuth{qc: qc}, zap.NewNop())
}

type stubWorkbench struct {
	got    workbench.Request
	gotQC  *models.QueryContext
	result *workbench.Result
	err    error
}

func (s *stubWorkbench) Execute(_ context.Context, qc *models.QueryContext, req *workbench.Request) (*workbench.Result, error) {
	s.got, s.gotQC = *req, qc
	return s.result, s.err
}

type stubRunner struct {
	got    *models.PivotQuery
	result *pivot.Result
	err    error
}

func (s *stubRunner) Run(_ context.Context, _ *models.QueryContext, q *models.PivotQuery) (*pivot.Result, error) {
	s.got = q
	return s.result, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) PingContext(context.Context) error { return s.err }

type stubGate struct {
	err     error
	session guard.Session
	ids     []string
}

func (s *stubGate) AssertReady(_ context.Context, sess guard.Session, ids []string) error {
	s.session, s.ids = sess, ids
	return s.err
}

var errDown = errors.New("dial tcp 10.0.0.5:5432: connection refused")
