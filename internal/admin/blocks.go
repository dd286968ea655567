package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flowkeeper/flowkeeper/internal/messaging"
	"github.com/flowkeeper/flowkeeper/internal/models"
)

const defaultGateButtonText = "✅ Ready for the next lesson"

type blockRow struct {
	models.Block
	Excerpt string
	Gated   bool
}

type actionRow struct {
	models.FlowAction
	DelayValue int64
	DelayUnit  string
}

type flowData struct {
	Flow    string
	Blocks  []blockRow
	Actions []actionRow
	Flows   []models.Flow
}

func (s *Server) handleFlowPage(c *gin.Context) {
	name := c.Param("flow")
	blocks, err := s.store.ListBlocks(name)
	if err != nil {
		slog.Error("Admin.handleFlowPage: list blocks failed", "flow", name, "error", err)
		c.String(http.StatusInternalServerError, "failed to load blocks")
		return
	}
	rows := make([]blockRow, 0, len(blocks))
	for _, b := range blocks {
		rows = append(rows, blockRow{Block: b, Excerpt: excerpt(b), Gated: b.HasGate()})
	}

	actions, err := s.store.ListActions(name)
	if err != nil {
		slog.Error("Admin.handleFlowPage: list actions failed", "flow", name, "error", err)
	}
	actionRows := make([]actionRow, 0, len(actions))
	for _, a := range actions {
		value, unit := secondsToValueUnit(a.DelaySeconds, "hours")
		actionRows = append(actionRows, actionRow{FlowAction: a, DelayValue: value, DelayUnit: unit})
	}

	flows, err := s.store.ListFlows()
	if err != nil {
		slog.Error("Admin.handleFlowPage: list flows failed", "error", err)
	}

	c.HTML(http.StatusOK, "flow.html", flowData{
		Flow:    name,
		Blocks:  rows,
		Actions: actionRows,
		Flows:   flows,
	})
}

func excerpt(b models.Block) string {
	text := strings.TrimSpace(b.Text)
	if text == "" {
		switch b.Kind {
		case models.BlockKindCircle:
			text = b.CirclePath
		case models.BlockKindVideo:
			text = b.VideoURL
		}
	}
	runes := []rune(text)
	if len(runes) > 80 {
		return string(runes[:80]) + "…"
	}
	return text
}

type buttonPair struct {
	Index int
	Text  string
	URL   string
}

type blockForm struct {
	Block             models.Block
	IsNew             bool
	Flows             []models.Flow
	Pairs             []buttonPair
	GateReminderValue int64
	GateReminderUnit  string
}

// handleNewBlock renders the editor for an unsaved block. The flow is
// created on the spot so a fresh course can start from this page.
func (s *Server) handleNewBlock(c *gin.Context) {
	name := strings.TrimSpace(c.Query("flow"))
	if name == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err := s.store.CreateFlow(name); err != nil {
		slog.Error("Admin.handleNewBlock: create flow failed", "flow", name, "error", err)
	}
	position, err := s.store.NextBlockPosition(name)
	if err != nil {
		slog.Error("Admin.handleNewBlock: next position failed", "flow", name, "error", err)
		position = 1
	}

	form := blockForm{
		Block: models.Block{
			Flow:           name,
			Position:       position,
			Kind:           models.BlockKindText,
			IsActive:       true,
			GateButtonText: defaultGateButtonText,
		},
		IsNew:            true,
		GateReminderUnit: "hours",
		Pairs:            emptyPairs(),
	}
	s.renderBlockForm(c, form)
}

func (s *Server) handleEditBlock(c *gin.Context) {
	id := pathInt64(c, "id")
	block, err := s.store.GetBlock(id)
	if err != nil {
		slog.Error("Admin.handleEditBlock: load failed", "blockID", id, "error", err)
		c.String(http.StatusInternalServerError, "failed to load block")
		return
	}
	if block == nil {
		c.Redirect(http.StatusFound, "/")
		return
	}

	form := blockForm{Block: *block, Pairs: emptyPairs()}
	buttons, err := block.Buttons()
	if err != nil {
		slog.Warn("Admin.handleEditBlock: stored buttons unreadable", "blockID", id, "error", err)
	}
	for i, b := range buttons {
		if i >= len(form.Pairs) {
			break
		}
		form.Pairs[i].Text = b.Text
		form.Pairs[i].URL = b.URL
	}
	form.GateReminderValue, form.GateReminderUnit = secondsToValueUnit(block.GateReminderSeconds, "hours")
	if form.Block.GateButtonText == "" {
		form.Block.GateButtonText = defaultGateButtonText
	}
	s.renderBlockForm(c, form)
}

func (s *Server) renderBlockForm(c *gin.Context, form blockForm) {
	flows, err := s.store.ListFlows()
	if err != nil {
		slog.Error("Admin.renderBlockForm: list flows failed", "error", err)
	}
	form.Flows = flows
	c.HTML(http.StatusOK, "edit.html", form)
}

func emptyPairs() []buttonPair {
	return []buttonPair{{Index: 1}, {Index: 2}, {Index: 3}}
}

// handleSaveBlock creates or updates a block from the editor form. Uploads
// land in the media directory under random hex names and the block keeps
// the console-served /media path.
func (s *Server) handleSaveBlock(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("flow"))
	if name == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err := s.store.CreateFlow(name); err != nil {
		slog.Error("Admin.handleSaveBlock: ensure flow failed", "flow", name, "error", err)
	}

	kind := strings.ToLower(strings.TrimSpace(c.PostForm("type")))
	if kind == "" {
		kind = string(models.BlockKindText)
	}

	block := models.Block{
		ID:           formInt64(c, "block_id"),
		Flow:         name,
		Position:     int(formInt64(c, "position")),
		Kind:         models.BlockKind(kind),
		Title:        strings.TrimSpace(c.PostForm("title")),
		Text:         c.PostForm("text"),
		CirclePath:   strings.TrimSpace(c.PostForm("circle_path")),
		VideoURL:     strings.TrimSpace(c.PostForm("video_url")),
		IsActive:     c.DefaultPostForm("is_active", "0") == "1",
		DelaySeconds: models.NormalizeDelay(c.PostForm("delay_seconds")),
		FilePath:     strings.TrimSpace(c.PostForm("file_path")),
		FileKind:     strings.TrimSpace(c.PostForm("file_kind")),
		FileName:     strings.TrimSpace(c.PostForm("file_name")),
	}
	if block.Position < 1 {
		position, err := s.store.NextBlockPosition(name)
		if err != nil {
			position = 1
		}
		block.Position = position
	}

	if path, _, _, ok := s.saveUpload(c, "circle_file", ".mp4"); ok {
		block.CirclePath = path
	}
	if path, origName, contentType, ok := s.saveUpload(c, "attach_file", ""); ok {
		block.FilePath = path
		block.FileName = origName
		block.FileKind = kindFromContentType(contentType)
	}

	block.ButtonsJSON = buttonsFromForm(c)

	block.GateNextFlow = strings.TrimSpace(c.PostForm("gate_next_flow"))
	block.GateButtonText = strings.TrimSpace(c.PostForm("gate_button_text"))
	block.GatePromptText = strings.TrimSpace(c.PostForm("gate_prompt_text"))
	block.GateReminderText = strings.TrimSpace(c.PostForm("gate_reminder_text"))
	reminder := formInt64(c, "gate_reminder_value")
	if reminder < 0 {
		reminder = 0
	}
	block.GateReminderSeconds = reminder * unitSeconds(normalizeUnit(c.PostForm("gate_reminder_unit"), "hours"))

	if block.ID == 0 {
		if _, err := s.store.CreateBlock(block); err != nil {
			slog.Error("Admin.handleSaveBlock: create failed", "flow", name, "error", err)
		}
	} else {
		if err := s.store.UpdateBlock(block); err != nil {
			slog.Error("Admin.handleSaveBlock: update failed", "blockID", block.ID, "error", err)
		}
	}
	c.Redirect(http.StatusFound, flowPagePath(name))
}

// buttonsFromForm assembles the button list. A raw JSON field wins over the
// three text/url pairs so hand-written lists survive editing.
func buttonsFromForm(c *gin.Context) string {
	if raw := strings.TrimSpace(c.PostForm("buttons_json")); raw != "" {
		return raw
	}
	var buttons []models.Button
	for i := 1; i <= 3; i++ {
		field := "btn" + strconv.Itoa(i)
		text := strings.TrimSpace(c.PostForm(field + "_text"))
		link := strings.TrimSpace(c.PostForm(field + "_url"))
		if text == "" || link == "" {
			continue
		}
		buttons = append(buttons, models.Button{Text: text, URL: link})
	}
	if len(buttons) == 0 {
		return ""
	}
	encoded, err := json.Marshal(buttons)
	if err != nil {
		slog.Error("Admin.buttonsFromForm: marshal failed", "error", err)
		return ""
	}
	return string(encoded)
}

// saveUpload stores one multipart file under a random hex name and returns
// its /media path, the sanitized original filename, and the declared
// content type. Requests without that file report ok=false.
func (s *Server) saveUpload(c *gin.Context, field, defaultExt string) (path, origName, contentType string, ok bool) {
	header, err := c.FormFile(field)
	if err != nil || header == nil || header.Filename == "" {
		return "", "", "", false
	}
	origName = sanitizeUploadName(header.Filename)
	ext := strings.ToLower(filepath.Ext(origName))
	if ext == "" {
		ext = defaultExt
	}
	stored := strings.ReplaceAll(uuid.NewString(), "-", "") + ext
	if err := c.SaveUploadedFile(header, filepath.Join(s.mediaDir, stored)); err != nil {
		slog.Error("Admin.saveUpload: save failed", "field", field, "error", err)
		return "", "", "", false
	}
	return "/media/" + stored, origName, header.Header.Get("Content-Type"), true
}

func sanitizeUploadName(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	name = strings.NewReplacer("\x00", "", "\n", " ", "\r", " ").Replace(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "file"
	}
	return name
}

func kindFromContentType(contentType string) string {
	contentType = strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return messaging.KindPhoto
	case strings.HasPrefix(contentType, "video/"):
		return messaging.KindVideo
	case strings.HasPrefix(contentType, "audio/"):
		return messaging.KindAudio
	}
	return messaging.KindDocument
}

func (s *Server) handleDeleteBlock(c *gin.Context) {
	id := pathInt64(c, "id")
	back := s.blockFlow(c, id)
	if err := s.store.DeleteBlock(id); err != nil {
		slog.Error("Admin.handleDeleteBlock: delete failed", "blockID", id, "error", err)
	}
	c.Redirect(http.StatusFound, back)
}

// handleMoveBlock swaps a block with its neighbor in list order. delta is
// -1 for up, +1 for down; edge positions stay put.
func (s *Server) handleMoveBlock(delta int) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := pathInt64(c, "id")
		name := strings.TrimSpace(c.PostForm("flow"))
		if name == "" {
			if block, err := s.store.GetBlock(id); err == nil && block != nil {
				name = block.Flow
			}
		}
		if name == "" {
			c.Redirect(http.StatusFound, "/")
			return
		}
		back := flowPagePath(name)

		blocks, err := s.store.ListBlocks(name)
		if err != nil {
			slog.Error("Admin.handleMoveBlock: list failed", "flow", name, "error", err)
			c.Redirect(http.StatusFound, back)
			return
		}
		for i, b := range blocks {
			if b.ID != id {
				continue
			}
			j := i + delta
			if j < 0 || j >= len(blocks) {
				break
			}
			if err := s.store.SwapBlockPositions(b.ID, blocks[j].ID); err != nil {
				slog.Error("Admin.handleMoveBlock: swap failed", "blockID", id, "error", err)
			}
			break
		}
		c.Redirect(http.StatusFound, back)
	}
}

// blockFlow resolves the flow page a block action should land back on,
// preferring the form field over a store lookup.
func (s *Server) blockFlow(c *gin.Context, id int64) string {
	if name := strings.TrimSpace(c.PostForm("flow")); name != "" {
		return flowPagePath(name)
	}
	block, err := s.store.GetBlock(id)
	if err != nil || block == nil {
		return "/"
	}
	return flowPagePath(block.Flow)
}
