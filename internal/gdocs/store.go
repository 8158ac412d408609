// Package gdocs implements docmodel.Store over the Google Docs and Drive APIs.
// Documents are read and mutated through Docs; comments live in Drive.
package gdocs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	docs "google.golang.org/api/docs/v1"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"docmerge/internal/docmodel"
)

const commentFields = "nextPageToken,comments(id,content,resolved,createdTime,author/displayName,quotedFileContent/value,replies(id,content,createdTime,author/displayName))"

type Store struct {
	docs  *docs.Service
	drive *drive.Service
}

// New authenticates with a service account key file.
func New(ctx context.Context, credentialsFile string) (*Store, error) {
	if _, err := os.Stat(credentialsFile); err != nil {
		return nil, fmt.Errorf("google credentials not found at %s: %w", credentialsFile, err)
	}
	return NewWithOptions(ctx,
		[]option.ClientOption{option.WithCredentialsFile(credentialsFile), option.WithScopes(docs.DocumentsScope)},
		[]option.ClientOption{option.WithCredentialsFile(credentialsFile), option.WithScopes(drive.DriveScope)},
	)
}

// NewWithOptions builds the Docs and Drive clients from explicit options.
func NewWithOptions(ctx context.Context, docsOpts, driveOpts []option.ClientOption) (*Store, error) {
	docsService, err := docs.NewService(ctx, docsOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docs client: %w", err)
	}
	driveService, err := drive.NewService(ctx, driveOpts...)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return &Store{docs: docsService, drive: driveService}, nil
}

func (s *Store) GetDocument(ctx context.Context, ref string) (docmodel.Document, error) {
	doc, err := s.docs.Documents.Get(ref).Context(ctx).Do()
	if err != nil {
		return docmodel.Document{}, mapError("get document", err, docmodel.ErrNotFound)
	}
	var blocks []docmodel.Block
	if doc.Body != nil {
		blocks = mapContent(doc.Body.Content)
	}
	return docmodel.NewDocument(doc.DocumentId, doc.Title, blocks), nil
}

// ListAnnotations reads Drive comments. The quoted file content a comment was
// created on becomes its anchor text.
func (s *Store) ListAnnotations(ctx context.Context, ref string, includeResolved bool) ([]docmodel.Annotation, error) {
	items := make([]docmodel.Annotation, 0)
	pageToken := ""
	for {
		call := s.drive.Comments.List(ref).Fields(commentFields).PageSize(100).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, mapError("list comments", err, docmodel.ErrNotFound)
		}
		for _, comment := range page.Comments {
			if comment.Resolved && !includeResolved {
				continue
			}
			items = append(items, toAnnotation(comment))
		}
		if page.NextPageToken == "" {
			return items, nil
		}
		pageToken = page.NextPageToken
	}
}

func (s *Store) BatchMutate(ctx context.Context, ref string, plan docmodel.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	requests, err := toRequests(plan)
	if err != nil {
		return err
	}
	_, err = s.docs.Documents.BatchUpdate(ref, &docs.BatchUpdateDocumentRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return mapError("batch update", err, docmodel.ErrMutationRejected)
	}
	return nil
}

// CreateAnnotation adds an unanchored comment; the API cannot anchor new
// comments to Docs text.
func (s *Store) CreateAnnotation(ctx context.Context, ref, content string) (string, error) {
	comment, err := s.drive.Comments.Create(ref, &drive.Comment{Content: content}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", mapError("create comment", err, docmodel.ErrMutationRejected)
	}
	return comment.Id, nil
}

func mapContent(elements []*docs.StructuralElement) []docmodel.Block {
	blocks := make([]docmodel.Block, 0, len(elements))
	for _, element := range elements {
		switch {
		case element.Paragraph != nil:
			blocks = append(blocks, paragraphBlock(element))
		case element.Table != nil:
			table := docmodel.Block{Start: int(element.StartIndex), End: int(element.EndIndex)}
			for _, row := range element.Table.TableRows {
				for _, cell := range row.TableCells {
					table.Children = append(table.Children, mapContent(cell.Content)...)
				}
			}
			if len(table.Children) > 0 {
				blocks = append(blocks, table)
			}
		case element.TableOfContents != nil:
			toc := docmodel.Block{Start: int(element.StartIndex), End: int(element.EndIndex), Children: mapContent(element.TableOfContents.Content)}
			if len(toc.Children) > 0 {
				blocks = append(blocks, toc)
			}
		}
	}
	return blocks
}

func paragraphBlock(element *docs.StructuralElement) docmodel.Block {
	block := docmodel.Block{
		Start: int(element.StartIndex),
		End:   int(element.EndIndex),
		Style: docmodel.StyleNormal,
	}
	if style := element.Paragraph.ParagraphStyle; style != nil && style.NamedStyleType != "" {
		block.Style = style.NamedStyleType
	}
	var text strings.Builder
	for _, part := range element.Paragraph.Elements {
		if part.TextRun == nil {
			continue
		}
		text.WriteString(part.TextRun.Content)
		block.Runs = append(block.Runs, docmodel.Run{Start: int(part.StartIndex), Text: part.TextRun.Content})
	}
	block.Text = text.String()
	return block
}

func toAnnotation(comment *drive.Comment) docmodel.Annotation {
	annotation := docmodel.Annotation{
		ID:        comment.Id,
		Content:   comment.Content,
		Resolved:  comment.Resolved,
		CreatedAt: parseTime(comment.CreatedTime),
	}
	if comment.Author != nil {
		annotation.Author = comment.Author.DisplayName
	}
	if comment.QuotedFileContent != nil {
		annotation.AnchorText = comment.QuotedFileContent.Value
	}
	for _, reply := range comment.Replies {
		r := docmodel.Reply{ID: reply.Id, Content: reply.Content, CreatedAt: parseTime(reply.CreatedTime)}
		if reply.Author != nil {
			r.Author = reply.Author.DisplayName
		}
		annotation.Replies = append(annotation.Replies, r)
	}
	return annotation
}

func toRequests(plan docmodel.Plan) ([]*docs.Request, error) {
	requests := make([]*docs.Request, 0, len(plan))
	for _, edit := range plan {
		switch edit.Kind {
		case docmodel.EditInsertText:
			requests = append(requests, &docs.Request{InsertText: &docs.InsertTextRequest{
				Location: &docs.Location{Index: int64(edit.Offset)},
				Text:     edit.Text,
			}})
		case docmodel.EditDeleteRange:
			requests = append(requests, &docs.Request{DeleteContentRange: &docs.DeleteContentRangeRequest{
				Range: docsRange(edit),
			}})
		case docmodel.EditSetParagraphStyle:
			requests = append(requests, &docs.Request{UpdateParagraphStyle: &docs.UpdateParagraphStyleRequest{
				Range:          docsRange(edit),
				ParagraphStyle: &docs.ParagraphStyle{NamedStyleType: edit.ParagraphStyle},
				Fields:         "namedStyleType",
			}})
		case docmodel.EditSetTextStyle:
			style, fields, err := textStyle(edit.TextStyle)
			if err != nil {
				return nil, err
			}
			requests = append(requests, &docs.Request{UpdateTextStyle: &docs.UpdateTextStyleRequest{
				Range:     docsRange(edit),
				TextStyle: style,
				Fields:    fields,
			}})
		default:
			return nil, fmt.Errorf("%w: unknown edit kind %q", docmodel.ErrMutationRejected, edit.Kind)
		}
	}
	return requests, nil
}

func docsRange(edit docmodel.Edit) *docs.Range {
	return &docs.Range{StartIndex: int64(edit.Start), EndIndex: int64(edit.End)}
}

func textStyle(style *docmodel.TextStyle) (*docs.TextStyle, string, error) {
	if style == nil {
		return nil, "", fmt.Errorf("%w: text style edit without style", docmodel.ErrMutationRejected)
	}
	out := &docs.TextStyle{Italic: style.Italic}
	fields := []string{"italic"}
	if !style.Italic {
		out.ForceSendFields = []string{"Italic"}
	}
	if style.Color != "" {
		rgb, err := parseColor(style.Color)
		if err != nil {
			return nil, "", err
		}
		out.ForegroundColor = &docs.OptionalColor{Color: &docs.Color{RgbColor: rgb}}
		fields = append(fields, "foregroundColor")
	}
	return out, strings.Join(fields, ","), nil
}

// parseColor converts #RRGGBB to the 0..1 channels Docs expects.
func parseColor(hex string) (*docs.RgbColor, error) {
	value := strings.TrimPrefix(hex, "#")
	if len(value) != 6 {
		return nil, fmt.Errorf("%w: invalid colour %q", docmodel.ErrMutationRejected, hex)
	}
	channels := [3]float64{}
	for i := range channels {
		n, err := strconv.ParseUint(value[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid colour %q", docmodel.ErrMutationRejected, hex)
		}
		channels[i] = float64(n) / 255
	}
	rgb := &docs.RgbColor{Red: channels[0], Green: channels[1], Blue: channels[2]}
	rgb.ForceSendFields = []string{"Red", "Green", "Blue"}
	return rgb, nil
}

// mapError wraps Google API failures onto docmodel sentinels. badRequest is
// the sentinel a 400 maps to for this call.
func mapError(op string, err error, badRequest error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %s", op, docmodel.ErrNotFound, apiErr.Message)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %s", op, docmodel.ErrPermissionDenied, apiErr.Message)
		case http.StatusBadRequest:
			return fmt.Errorf("%s: %w: %s", op, badRequest, apiErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
