package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/export"
	"github.com/gyeh/chartcoder/internal/pkg/logger"
	"github.com/gyeh/chartcoder/internal/workflow"
)

type processTextRequest struct {
	Text string `json:"text" validate:"required"`
}

type searchRequest struct {
	Query    string `json:"query"`
	CodeType string `json:"code_type"`
}

type manualCodeRequest struct {
	Code        string `json:"code" validate:"required"`
	Description string `json:"description" validate:"required"`
	CodeType    string `json:"code_type" validate:"required"`
}

// workspaceView is the snapshot plus the derived views the UI renders.
type workspaceView struct {
	workflow.Snapshot
	FilteredSuggestions []codes.MedicalCode       `json:"filtered_suggestions"`
	Summary             codes.VerificationSummary `json:"verification_summary"`
}

func snapshotView(s workflow.Snapshot) workspaceView {
	return workspaceView{
		Snapshot:            s,
		FilteredSuggestions: s.FilteredSuggestions(),
		Summary:             s.Summary(),
	}
}

type workspaceHandler struct {
	ws  *workflow.Workspace
	hub *Hub
	log logger.ILogger
}

func (h *workspaceHandler) RegisterRoutes(r fiber.Router) {
	r.Get("", h.Show)
	r.Post("/session", h.NewSession)
	r.Get("/session/:id", h.LoadSession)
	r.Post("/document", h.Upload)
	r.Post("/text", h.ProcessText)
	r.Post("/analysis", h.Analyze)
	r.Post("/search", h.Search)
	r.Post("/selected", h.Select)
	r.Post("/selected/manual", h.AddManual)
	r.Post("/selected/resync", h.Resync)
	r.Delete("/selected/:code", h.Remove)
	r.Post("/verify", h.Verify)
	r.Get("/export/:format", h.Export)
	r.Get("/events", h.Events)
}

func (h *workspaceHandler) view() workspaceView {
	return snapshotView(h.ws.Snapshot())
}

func (h *workspaceHandler) Show(c *fiber.Ctx) error {
	return c.JSON(successResponse("Success get workspace", h.view()))
}

func (h *workspaceHandler) NewSession(c *fiber.Ctx) error {
	if _, err := h.ws.NewSession(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(successResponse("Success create session", h.view()))
}

func (h *workspaceHandler) LoadSession(c *fiber.Ctx) error {
	if _, err := h.ws.LoadSession(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(successResponse("Success load session", h.view()))
}

func (h *workspaceHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := h.ws.UploadDocument(c.UserContext(), fh.Filename, f, nil)
	if err != nil {
		return err
	}
	return c.JSON(successResponse("Success upload document", res))
}

func (h *workspaceHandler) ProcessText(c *fiber.Ctx) error {
	var req processTextRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	res, err := h.ws.ProcessText(c.UserContext(), req.Text)
	if err != nil {
		return err
	}
	return c.JSON(successResponse("Success process text", res))
}

func (h *workspaceHandler) Analyze(c *fiber.Ctx) error {
	opts := codes.DefaultAnalysisOptions()
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&opts); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}

	if _, err := h.ws.RunAnalysis(c.UserContext(), opts); err != nil {
		return err
	}
	return c.JSON(successResponse("Success run analysis", h.view()))
}

func (h *workspaceHandler) Search(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	codeType, err := codes.ParseFilterType(req.CodeType)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	results, err := h.ws.Search(c.UserContext(), req.Query, codeType)
	if err != nil {
		return err
	}
	return c.JSON(successResponse("Success search codes", results))
}

func (h *workspaceHandler) Select(c *fiber.Ctx) error {
	var req codes.MedicalCode
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if _, err := h.ws.Select(c.UserContext(), req); err != nil {
		return err
	}
	return c.JSON(successResponse("Success select code", h.view().SelectedCodes))
}

func (h *workspaceHandler) AddManual(c *fiber.Ctx) error {
	var req manualCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	codeType, err := codes.ParseCodeType(req.CodeType)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if _, err := h.ws.AddManual(c.UserContext(), req.Code, req.Description, codeType); err != nil {
		return err
	}
	return c.JSON(successResponse("Success add manual code", h.view().SelectedCodes))
}

func (h *workspaceHandler) Remove(c *fiber.Ctx) error {
	if err := h.ws.Remove(c.UserContext(), c.Params("code")); err != nil {
		return err
	}
	return c.JSON(successResponse("Success remove code", h.view().SelectedCodes))
}

func (h *workspaceHandler) Resync(c *fiber.Ctx) error {
	selected, err := h.ws.ResyncSelected(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(successResponse("Success resync selected codes", selected))
}

func (h *workspaceHandler) Verify(c *fiber.Ctx) error {
	if _, err := h.ws.Verify(c.UserContext()); err != nil {
		return err
	}
	v := h.view()
	return c.JSON(successResponse("Success verify codes", fiber.Map{
		"verification_results": v.VerificationResults,
		"summary":              v.Summary,
	}))
}

func (h *workspaceHandler) Export(c *fiber.Ctx) error {
	format, err := export.ParseFormat(c.Params("format"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	name, body, err := h.ws.ExportStream(c.UserContext(), format)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	// fasthttp closes body once the response is written.
	return c.SendStream(body)
}

// Events upgrades to a websocket that streams snapshots and notices.
func (h *workspaceHandler) Events(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	initial := encodeEvent("snapshot", h.view())
	return websocket.New(func(conn *websocket.Conn) {
		h.log.Info(module, "Starting WebSocket session", nil)
		serveWs(h.hub, conn, initial)
		h.log.Info(module, "WebSocket session ended", nil)
	})(c)
}
