package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"lagerkoll/internal/admin/models"
	"lagerkoll/internal/admin/spreadsheet"
	invmodels "lagerkoll/internal/inventory/models"
	usermodels "lagerkoll/internal/users/models"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/platform/tracing"
)

// Column names double as export headers. Aliases are the JSON field names so
// a file built from the REST output imports as well.
var (
	colArticleNumber = spreadsheet.Column{Name: "Artikelnummer", Aliases: []string{"articleNumber", "article number"}, Required: true}
	colDescription   = spreadsheet.Column{Name: "Beskrivning", Aliases: []string{"description"}}
	colLocation      = spreadsheet.Column{Name: "Lagerplats", Aliases: []string{"location"}}
	colTotalCounted  = spreadsheet.Column{Name: "Totalt inventerat", Aliases: []string{"totalCounted"}}
	colOrderNumber   = spreadsheet.Column{Name: "Ordernummer", Aliases: []string{"orderNumber", "order number"}, Required: true}
	colQuantity      = spreadsheet.Column{Name: "Antal", Aliases: []string{"quantity"}}
	colPickStatus    = spreadsheet.Column{Name: "Plockstatus", Aliases: []string{"pickStatus", "status"}}
	colInventoried   = spreadsheet.Column{Name: "Inventerad", Aliases: []string{"inventoried"}}
	colInventoriedAt = spreadsheet.Column{Name: "Inventerad tid", Aliases: []string{"inventoriedAt"}}
	colCount         = spreadsheet.Column{Name: "Inventerat antal", Aliases: []string{"count"}, Required: true}
	colNote          = spreadsheet.Column{Name: "Notering", Aliases: []string{"note"}}
	colUserID        = spreadsheet.Column{Name: "Användare", Aliases: []string{"userId"}}
	colCreatedAt     = spreadsheet.Column{Name: "Skapad", Aliases: []string{"createdAt"}}
	colUsername      = spreadsheet.Column{Name: "Användarnamn", Aliases: []string{"username"}, Required: true}
	colPassword      = spreadsheet.Column{Name: "Lösenord", Aliases: []string{"password"}, Required: true}
	colRole          = spreadsheet.Column{Name: "Roll", Aliases: []string{"role"}}
)

var sheetNames = map[models.Resource]string{
	models.ResourceArticles:        "Artiklar",
	models.ResourceOrderLines:      "Orderrader",
	models.ResourceInventoryCounts: "Inventering",
	models.ResourceUsers:           "Användare",
}

const timeLayout = "2006-01-02 15:04:05"

// Import parses an uploaded workbook and hands all rows to the owning
// service as one bulk import. Nothing is written when any row is invalid.
func (s *Service) Import(ctx context.Context, resource models.Resource, r io.Reader) (res *models.ImportResult, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "admin.Import", attribute.String("resource", string(resource)))
	defer func() { tracing.End(span, err) }()

	var n int
	switch resource {
	case models.ResourceArticles:
		n, err = s.importArticles(ctx, r)
	case models.ResourceOrderLines:
		n, err = s.importOrderLines(ctx, r)
	case models.ResourceInventoryCounts:
		n, err = s.importCounts(ctx, r)
	case models.ResourceUsers:
		n, err = s.importUsers(ctx, r)
	default:
		err = dErrors.New(dErrors.CodeBadRequest, "unknown resource "+string(resource))
	}
	if err != nil {
		return nil, err
	}
	s.audit(ctx, "spreadsheet_imported", "resource", resource, "count", n)
	return &models.ImportResult{Resource: resource, Count: n}, nil
}

func (s *Service) importArticles(ctx context.Context, r io.Reader) (int, error) {
	t, err := spreadsheet.Read(r, []spreadsheet.Column{colArticleNumber, colDescription, colLocation})
	if err != nil {
		return 0, err
	}
	reqs := make([]invmodels.CreateArticleRequest, t.Len())
	for i := range reqs {
		reqs[i] = invmodels.CreateArticleRequest{
			ArticleNumber: t.Cell(i, colArticleNumber.Name),
			Description:   t.Cell(i, colDescription.Name),
			Location:      t.Cell(i, colLocation.Name),
		}
	}
	imported, err := s.inventory.ImportArticles(ctx, reqs)
	return len(imported), err
}

func (s *Service) importOrderLines(ctx context.Context, r io.Reader) (int, error) {
	t, err := spreadsheet.Read(r, []spreadsheet.Column{colOrderNumber, colArticleNumber, colDescription, colQuantity, colPickStatus})
	if err != nil {
		return 0, err
	}
	reqs := make([]invmodels.CreateOrderLineRequest, t.Len())
	for i := range reqs {
		qty, err := parseInt(t.Cell(i, colQuantity.Name))
		if err != nil {
			return 0, cellError(i, colQuantity, err)
		}
		status, err := invmodels.ParsePickStatus(t.Cell(i, colPickStatus.Name))
		if err != nil {
			return 0, cellError(i, colPickStatus, err)
		}
		reqs[i] = invmodels.CreateOrderLineRequest{
			OrderNumber:   t.Cell(i, colOrderNumber.Name),
			ArticleNumber: t.Cell(i, colArticleNumber.Name),
			Description:   t.Cell(i, colDescription.Name),
			Quantity:      qty,
			PickStatus:    status,
		}
	}
	imported, err := s.inventory.ImportOrderLines(ctx, reqs)
	return len(imported), err
}

func (s *Service) importCounts(ctx context.Context, r io.Reader) (int, error) {
	t, err := spreadsheet.Read(r, []spreadsheet.Column{colArticleNumber, colCount, colNote})
	if err != nil {
		return 0, err
	}
	rows := make([]invmodels.ImportCountRow, t.Len())
	for i := range rows {
		raw := t.Cell(i, colCount.Name)
		if raw == "" {
			return 0, cellError(i, colCount, dErrors.New(dErrors.CodeValidation, "value is required"))
		}
		count, err := parseInt(raw)
		if err != nil {
			return 0, cellError(i, colCount, err)
		}
		rows[i] = invmodels.ImportCountRow{
			ArticleNumber: t.Cell(i, colArticleNumber.Name),
			Count:         count,
			Note:          t.Cell(i, colNote.Name),
		}
	}
	imported, err := s.inventory.ImportCounts(ctx, rows)
	return len(imported), err
}

func (s *Service) importUsers(ctx context.Context, r io.Reader) (int, error) {
	t, err := spreadsheet.Read(r, []spreadsheet.Column{colUsername, colPassword, colRole})
	if err != nil {
		return 0, err
	}
	reqs := make([]usermodels.CreateUserRequest, t.Len())
	for i := range reqs {
		reqs[i] = usermodels.CreateUserRequest{
			Username: t.Cell(i, colUsername.Name),
			Password: t.Cell(i, colPassword.Name),
			Role:     usermodels.Role(t.Cell(i, colRole.Name)),
		}
	}
	created, err := s.accounts.ImportUsers(ctx, reqs)
	return len(created), err
}

// Export writes every record of resource as a workbook. Password hashes are
// never exported.
func (s *Service) Export(ctx context.Context, resource models.Resource, w io.Writer) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "admin.Export", attribute.String("resource", string(resource)))
	defer func() { tracing.End(span, err) }()

	var (
		columns []spreadsheet.Column
		rows    [][]any
	)
	switch resource {
	case models.ResourceArticles:
		columns, rows, err = s.exportArticles(ctx)
	case models.ResourceOrderLines:
		columns, rows, err = s.exportOrderLines(ctx)
	case models.ResourceInventoryCounts:
		columns, rows, err = s.exportCounts(ctx)
	case models.ResourceUsers:
		columns, rows, err = s.exportUsers(ctx)
	default:
		return dErrors.New(dErrors.CodeBadRequest, "unknown resource "+string(resource))
	}
	if err != nil {
		return err
	}
	if err := spreadsheet.Write(w, sheetNames[resource], columns, rows); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to render spreadsheet")
	}
	s.audit(ctx, "spreadsheet_exported", "resource", resource, "count", len(rows))
	return nil
}

// ExportFilename is the download name for an export made at now.
func ExportFilename(resource models.Resource, now time.Time) string {
	return fmt.Sprintf("lagerkoll-%s-%s.xlsx", resource, now.Format("20060102"))
}

func (s *Service) exportArticles(ctx context.Context) ([]spreadsheet.Column, [][]any, error) {
	articles, err := s.inventory.ListArticles(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]any, len(articles))
	for i, a := range articles {
		rows[i] = []any{a.ArticleNumber, a.Description, a.Location, a.TotalCounted}
	}
	return []spreadsheet.Column{colArticleNumber, colDescription, colLocation, colTotalCounted}, rows, nil
}

func (s *Service) exportOrderLines(ctx context.Context) ([]spreadsheet.Column, [][]any, error) {
	lines, err := s.inventory.ListOrderLines(ctx, invmodels.OrderLineFilter{})
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]any, len(lines))
	for i, l := range lines {
		inventoriedAt := ""
		if l.InventoriedAt != nil {
			inventoriedAt = l.InventoriedAt.UTC().Format(timeLayout)
		}
		rows[i] = []any{l.OrderNumber, l.ArticleNumber, l.Description, l.Quantity, string(l.PickStatus), yesNo(l.Inventoried), inventoriedAt}
	}
	return []spreadsheet.Column{colOrderNumber, colArticleNumber, colDescription, colQuantity, colPickStatus, colInventoried, colInventoriedAt}, rows, nil
}

func (s *Service) exportCounts(ctx context.Context) ([]spreadsheet.Column, [][]any, error) {
	articles, err := s.inventory.ListArticles(ctx)
	if err != nil {
		return nil, nil, err
	}
	numbers := make(map[string]string, len(articles))
	for _, a := range articles {
		numbers[a.ID.String()] = a.ArticleNumber
	}
	counts, err := s.inventory.ListCounts(ctx, invmodels.InventoryCountFilter{})
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]any, len(counts))
	for i, c := range counts {
		user := ""
		if c.UserID != nil {
			user = c.UserID.String()
		}
		rows[i] = []any{numbers[c.ArticleID.String()], c.Count, c.Note, user, c.CreatedAt.UTC().Format(timeLayout)}
	}
	return []spreadsheet.Column{colArticleNumber, colCount, colNote, colUserID, colCreatedAt}, rows, nil
}

func (s *Service) exportUsers(ctx context.Context) ([]spreadsheet.Column, [][]any, error) {
	users, err := s.accounts.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]any, len(users))
	for i, u := range users {
		rows[i] = []any{u.Username, string(u.Role), u.CreatedAt.UTC().Format(timeLayout)}
	}
	return []spreadsheet.Column{colUsername, colRole, colCreatedAt}, rows, nil
}

// parseInt accepts whole numbers, including the "12.0" some spreadsheet
// programs store. Empty is zero.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%q is not a whole number", s))
	}
	return int(f), nil
}

func cellError(i int, col spreadsheet.Column, err error) error {
	return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("row %d, %s: %s", i+1, col.Name, dErrors.MessageOf(err)))
}

func yesNo(b bool) string {
	if b {
		return "Ja"
	}
	return "Nej"
}
