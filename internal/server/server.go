// Package server exposes statement import over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/cleared-dev/tally/internal/buildinfo"
	"github.com/cleared-dev/tally/internal/guard"
	"github.com/cleared-dev/tally/internal/header"
	"github.com/cleared-dev/tally/internal/importer"
	"github.com/cleared-dev/tally/internal/model"
	"github.com/cleared-dev/tally/internal/pipeline"
)

// formOverhead is allowed on top of the upload limit for multipart framing
// and the other form fields.
const formOverhead = 64 << 10

// previewRows is how many decoded rows a needs_mapping response carries.
const previewRows = 10

// Server is the upload API over one workspace.
type Server struct {
	app       *fiber.App
	ws        *pipeline.Workspace
	log       zerolog.Logger
	maxUpload int64

	mu       sync.Mutex
	sessions map[string]*pipeline.Session
}

// New creates a Server and registers its routes.
func New(ws *pipeline.Workspace, log zerolog.Logger) *Server {
	limit := ws.Config.Import.MaxUploadBytes
	if limit <= 0 {
		limit = importer.MaxUploadBytes
	}
	s := &Server{
		ws:        ws,
		log:       log,
		maxUpload: limit,
		sessions:  make(map[string]*pipeline.Session),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "tally",
		BodyLimit:             int(limit) + formOverhead,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/api/imports", s.handleListImports)
	s.app.Post("/api/imports", s.handleImport)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Info().Msg("shutting down")
	return s.app.ShutdownWithContext(shutdownCtx)
}

func (s *Server) session(key string) *pipeline.Session {
	if key == "" {
		key = "default"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &pipeline.Session{}
		s.sessions[key] = sess
	}
	return sess
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

type importJSON struct {
	ImportID     string `json:"import_id"`
	File         string `json:"file"`
	Size         int64  `json:"size"`
	Transactions int    `json:"transactions"`
	ImportedAt   string `json:"imported_at"`
}

func (s *Server) handleListImports(c *fiber.Ctx) error {
	recs, err := s.ws.History.ListImports(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]importJSON, 0, len(recs))
	for _, r := range recs {
		out = append(out, importJSON{
			ImportID:     r.ImportID,
			File:         r.Fingerprint.Name,
			Size:         r.Fingerprint.Size,
			Transactions: r.Count,
			ImportedAt:   r.ImportedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(out)
}

type transactionJSON struct {
	ID           string   `json:"id,omitempty"`
	Date         string   `json:"date"`
	Description  string   `json:"description"`
	Amount       string   `json:"amount"`
	Type         string   `json:"type"`
	Category     string   `json:"category"`
	CategoryRule string   `json:"category_rule,omitempty"`
	SIPRule      string   `json:"sip_rule,omitempty"`
	Recurring    string   `json:"recurring,omitempty"`
	AccountID    int      `json:"account_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

type importResponse struct {
	Kind         string            `json:"kind"`
	Reason       string            `json:"reason,omitempty"`
	Error        string            `json:"error,omitempty"`
	Retry        bool              `json:"retry,omitempty"`
	Columns      []string          `json:"columns,omitempty"`
	Preview      [][]string        `json:"preview,omitempty"`
	ImportID     string            `json:"import_id,omitempty"`
	Skipped      int               `json:"skipped"`
	Transactions []transactionJSON `json:"transactions"`
}

// statusFor maps a failure reason to an HTTP status.
func statusFor(reason string) int {
	switch reason {
	case pipeline.ReasonDuplicate:
		return fiber.StatusConflict
	case pipeline.ReasonTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case pipeline.ReasonUnsupported:
		return fiber.StatusUnsupportedMediaType
	case pipeline.ReasonError:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusUnprocessableEntity
	}
}

func (s *Server) handleImport(c *fiber.Ctx) error {
	ctx := c.UserContext()
	sess := s.session(c.FormValue("session"))
	gen := sess.Begin()

	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "missing form field \"file\"")
	}
	if fh.Size > s.maxUpload {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("%s is %d bytes, limit is %d", fh.Filename, fh.Size, s.maxUpload))
	}

	opts, err := s.options(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	src, err := fh.Open()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		return err
	}

	var modTime time.Time
	if ms, err := strconv.ParseInt(c.FormValue("last_modified"), 10, 64); err == nil {
		modTime = time.UnixMilli(ms).UTC()
	}
	newFile := func() importer.File {
		return importer.File{
			Name:     fh.Filename,
			Size:     fh.Size,
			ModTime:  modTime,
			Body:     bytes.NewReader(data),
			Password: c.FormValue("password"),
		}
	}

	res := s.ws.Pipeline.Run(ctx, newFile(), opts)
	if !sess.Complete(gen, res) {
		return c.Status(fiber.StatusConflict).JSON(importResponse{Kind: "superseded", Transactions: []transactionJSON{}})
	}

	resp := importResponse{
		Kind:         res.Kind.String(),
		Reason:       res.Reason,
		Retry:        res.Retry,
		Skipped:      res.Skipped,
		Transactions: toJSON(res.Transactions, nil),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	switch res.Kind {
	case pipeline.NeedsMapping:
		resp.Columns = header.Describe(res.Table, -1)
		resp.Preview = preview(res.Table)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
	case pipeline.NeedsPassword:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
	case pipeline.Failed:
		return c.Status(statusFor(res.Reason)).JSON(resp)
	}

	if c.FormValue("dry_run") == "true" {
		return c.JSON(resp)
	}

	receipt, err := s.ws.Pipeline.Commit(ctx, newFile(), res)
	if errors.Is(err, guard.ErrDuplicateFile) {
		resp.Kind = pipeline.Failed.String()
		resp.Reason = pipeline.ReasonDuplicate
		resp.Error = err.Error()
		return c.Status(fiber.StatusConflict).JSON(resp)
	}
	if err != nil {
		return err
	}
	resp.ImportID = receipt.ImportID
	resp.Transactions = toJSON(res.Transactions, receipt.TxnIDs)
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (s *Server) options(c *fiber.Ctx) (pipeline.Options, error) {
	opts := pipeline.Options{Force: c.FormValue("force") == "true"}
	if ref := c.FormValue("account"); ref != "" {
		acct, err := s.ws.Accounts.Resolve(ref)
		if err != nil {
			return opts, err
		}
		opts.AccountID = acct.ID
	}
	if raw := c.FormValue("map"); raw != "" {
		m, err := header.ParseMapping(raw)
		if err != nil {
			return opts, err
		}
		opts.Mapping = &m
		if hr := c.FormValue("header_row"); hr != "" {
			n, err := strconv.Atoi(hr)
			if err != nil {
				return opts, fmt.Errorf("invalid header_row %q", hr)
			}
			opts.HeaderRow = n
		}
	}
	return opts, nil
}

func toJSON(txns []model.ParsedTransaction, ids []string) []transactionJSON {
	out := make([]transactionJSON, len(txns))
	for i, t := range txns {
		out[i] = transactionJSON{
			Date:         t.Date.Format("2006-01-02"),
			Description:  t.Description,
			Amount:       t.Amount.StringFixed(2),
			Type:         string(t.Type),
			Category:     t.CategoryID,
			CategoryRule: t.CategoryRuleID,
			SIPRule:      t.SIPRuleID,
			Recurring:    t.RecurringID,
			AccountID:    t.AccountID,
			Tags:         t.Tags,
		}
		if i < len(ids) {
			out[i].ID = ids[i]
		}
	}
	return out
}

func preview(table model.RawTable) [][]string {
	n := min(len(table), previewRows)
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		out[i] = append([]string(nil), table[i]...)
	}
	return out
}
