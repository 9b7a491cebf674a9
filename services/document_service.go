package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/quizforge/api/config"
	"github.com/quizforge/api/database"
	"github.com/quizforge/api/model"
	"github.com/quizforge/api/services/digitalocean"
	"github.com/quizforge/api/utils/fingerprint"
	"github.com/quizforge/api/utils/htmltext"
	"github.com/quizforge/api/utils/pdfvalidation"
)

// ErrEmptyDocument means ingestion produced no usable content
var ErrEmptyDocument = errors.New("document contains no extractable content")

// ErrNoArchive means the document has no retrievable upload archive
var ErrNoArchive = errors.New("no archived upload for this document")

// Document kinds recognized by ingestion
const (
	kindPDF   = "pdf"
	kindHTML  = "html"
	kindText  = "text"
	kindImage = "image"
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// DocumentService handles ingestion and management of study documents.
// Ingestion turns an upload into normalized text (or a page-image set),
// derives the content fingerprint, and archives the original to Spaces.
type DocumentService struct {
	store          database.Storage
	spacesClient   *digitalocean.SpacesClient
	ocrClient      *OCRClient
	pdfExtractor   *PDFExtractor
	enableSpaces   bool
	enableOCR      bool
	maxUploadBytes int64
}

// NewDocumentService creates a document service. Spaces archival and OCR are
// optional collaborators; missing configuration disables them with a warning
// instead of failing startup.
func NewDocumentService(store database.Storage, env *config.EnviornmentVariable) *DocumentService {
	service := &DocumentService{
		store:          store,
		pdfExtractor:   NewPDFExtractor(),
		maxUploadBytes: int64(env.MAX_UPLOAD_MB) * 1024 * 1024,
	}

	if env.DO_SPACES_KEY != "" && env.DO_SPACES_SECRET != "" && env.DO_SPACES_BUCKET != "" {
		spacesClient, err := digitalocean.NewSpacesClient(digitalocean.SpacesConfig{
			AccessKey: env.DO_SPACES_KEY,
			SecretKey: env.DO_SPACES_SECRET,
			Bucket:    env.DO_SPACES_BUCKET,
			Region:    env.DO_SPACES_REGION,
			Endpoint:  env.DO_SPACES_ENDPOINT,
			CDNURL:    env.DO_SPACES_CDN_URL,
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize Spaces client: %v. Upload archival will be disabled.", err)
		} else {
			service.spacesClient = spacesClient
			service.enableSpaces = true
		}
	} else {
		log.Println("Warning: Spaces credentials not set. Upload archival will be disabled.")
	}

	if env.OCR_SERVICE_URL != "" {
		service.ocrClient = NewOCRClient()
		service.enableOCR = true
		log.Println("OCR service enabled at:", env.OCR_SERVICE_URL)
	} else {
		log.Println("Warning: OCR_SERVICE_URL not set. Scanned PDF and image ingestion will be limited.")
	}

	return service
}

// OCR exposes the OCR client for collaborators that read page images.
// Returns nil when OCR is disabled.
func (s *DocumentService) OCR() *OCRClient {
	if !s.enableOCR {
		return nil
	}
	return s.ocrClient
}

// ValidateFileType checks if the file type is supported for ingestion
func ValidateFileType(filename string) (bool, string) {
	allowedExtensions := map[string]bool{
		".pdf":  true,
		".txt":  true,
		".md":   true,
		".html": true,
		".htm":  true,
		".png":  true,
		".jpg":  true,
		".jpeg": true,
		".webp": true,
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return false, fmt.Sprintf("File type %s is not supported", ext)
	}
	return true, ""
}

// IngestUpload turns an uploaded file into a prepared submission. The raw
// upload is archived to Spaces under its fingerprint when archival is
// enabled; archival failure never fails ingestion.
func (s *DocumentService) IngestUpload(ctx context.Context, filename string, content []byte) (*SubmitInput, error) {
	if len(content) == 0 {
		return nil, ErrEmptyDocument
	}
	if s.maxUploadBytes > 0 && int64(len(content)) > s.maxUploadBytes {
		return nil, fmt.Errorf("file exceeds maximum upload size of %d MB", s.maxUploadBytes/(1024*1024))
	}

	displayName := filepath.Base(filename)
	if displayName == "" || displayName == "." {
		displayName = "untitled"
	}

	switch sniffKind(filename, content) {
	case kindPDF:
		return s.ingestPDF(ctx, displayName, filename, content)
	case kindHTML:
		return s.ingestHTML(ctx, displayName, filename, content)
	case kindImage:
		return s.IngestImages(ctx, displayName, []PageImage{{Name: displayName, Data: content}})
	default:
		return s.ingestPlainText(ctx, displayName, filename, content)
	}
}

// IngestText prepares a raw text submission, the no-upload path
func (s *DocumentService) IngestText(displayName, text string) (*SubmitInput, error) {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil, ErrEmptyDocument
	}
	if displayName == "" {
		displayName = "pasted text"
	}

	return &SubmitInput{
		Fingerprint: fingerprint.FromString(normalized),
		DisplayName: displayName,
		ContentType: model.ContentTypeText,
		Text:        normalized,
		ByteSize:    int64(len(normalized)),
	}, nil
}

// IngestImages prepares a page-image submission. The fingerprint comes from
// page names and sizes, so re-uploading the identical set hits the cache
// without reading pixel data.
func (s *DocumentService) IngestImages(ctx context.Context, displayName string, pages []PageImage) (*SubmitInput, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}
	if !s.enableOCR {
		return nil, fmt.Errorf("image ingestion requires the OCR service, which is not configured")
	}

	var byteSize int64
	idPages := make([]fingerprint.ImagePage, 0, len(pages))
	for _, page := range pages {
		if len(page.Data) == 0 {
			return nil, fmt.Errorf("page image %q is empty", page.Name)
		}
		if !looksLikeImage(page.Data) {
			return nil, fmt.Errorf("page %q is not a supported image format", page.Name)
		}
		byteSize += int64(len(page.Data))
		idPages = append(idPages, fingerprint.ImagePage{Name: page.Name, Size: int64(len(page.Data))})
	}
	if s.maxUploadBytes > 0 && byteSize > s.maxUploadBytes {
		return nil, fmt.Errorf("image set exceeds maximum upload size of %d MB", s.maxUploadBytes/(1024*1024))
	}

	input := &SubmitInput{
		Fingerprint: fingerprint.FromImageSet(idPages),
		DisplayName: displayName,
		ContentType: model.ContentTypeImages,
		Pages:       pages,
		ByteSize:    byteSize,
		PageCount:   len(pages),
	}

	if s.enableSpaces {
		for _, page := range pages {
			key := digitalocean.ArchiveKey(input.Fingerprint, page.Name)
			if _, err := s.spacesClient.UploadBytes(ctx, key, page.Data, digitalocean.GetContentType(page.Name)); err != nil {
				log.Printf("Warning: Failed to archive page %s: %v", page.Name, err)
			}
		}
		// Prefix key marks a multi-object archive
		input.SpacesKey = fmt.Sprintf("uploads/%s/", input.Fingerprint)
		input.SpacesURL = s.spacesClient.GetFileURL(digitalocean.ArchiveKey(input.Fingerprint, pages[0].Name))
	}

	return input, nil
}

// ListDocuments returns a page of documents, newest first
func (s *DocumentService) ListDocuments(page, limit int) ([]model.Document, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.store.ListDocuments(page, limit)
}

// GetDocument fetches a document by fingerprint
func (s *DocumentService) GetDocument(fingerprint string) (*model.Document, error) {
	return s.store.LookupDocument(fingerprint)
}

// GetQuestions returns a page of a document's questions, ordered by ordinal.
// A unit filter narrows the page to one extraction unit.
func (s *DocumentService) GetQuestions(fingerprint string, page, limit int, unit *int) ([]model.Question, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if _, err := s.store.LookupDocument(fingerprint); err != nil {
		return nil, 0, err
	}
	return s.store.GetQuestions(fingerprint, page, limit, unit)
}

// ArchivedSource is a re-downloaded original upload
type ArchivedSource struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ArchivedPage points at one archived page image of an image-set document
type ArchivedPage struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FetchArchivedSource retrieves the document's archived upload from Spaces.
// Text documents come back as the original file bytes; image-set documents,
// archived as one object per page, come back as a page listing instead.
func (s *DocumentService) FetchArchivedSource(ctx context.Context, fp string) (*ArchivedSource, []ArchivedPage, error) {
	doc, err := s.store.LookupDocument(fp)
	if err != nil {
		return nil, nil, err
	}
	if !s.enableSpaces || doc.SpacesKey == "" {
		return nil, nil, ErrNoArchive
	}

	// A trailing slash marks a per-page archive prefix
	if strings.HasSuffix(doc.SpacesKey, "/") {
		keys, err := s.spacesClient.ListFiles(ctx, doc.SpacesKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list archived pages: %w", err)
		}
		if len(keys) == 0 {
			return nil, nil, ErrNoArchive
		}
		pages := make([]ArchivedPage, 0, len(keys))
		for _, key := range keys {
			pages = append(pages, ArchivedPage{
				Name: filepath.Base(key),
				URL:  s.spacesClient.GetFileURL(key),
			})
		}
		return nil, pages, nil
	}

	exists, err := s.spacesClient.FileExists(ctx, doc.SpacesKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check archive: %w", err)
	}
	if !exists {
		return nil, nil, ErrNoArchive
	}

	data, err := s.spacesClient.DownloadFile(ctx, doc.SpacesKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download archive: %w", err)
	}

	filename := filepath.Base(doc.SpacesKey)
	return &ArchivedSource{
		Filename:    filename,
		ContentType: digitalocean.GetContentType(filename),
		Data:        data,
	}, nil, nil
}

// DeleteDocument removes a document, its questions, its quiz session, and
// its archived upload. Archive cleanup is best effort.
func (s *DocumentService) DeleteDocument(ctx context.Context, fp string) error {
	doc, err := s.store.LookupDocument(fp)
	if err != nil {
		return err
	}

	if err := s.store.DeleteDocument(fp); err != nil {
		return err
	}

	if s.enableSpaces && doc.SpacesKey != "" {
		if strings.HasSuffix(doc.SpacesKey, "/") {
			keys, err := s.spacesClient.ListFiles(ctx, doc.SpacesKey)
			if err != nil {
				log.Printf("Warning: Failed to list archived pages for %s: %v", fp, err)
			}
			for _, key := range keys {
				if err := s.spacesClient.DeleteFile(ctx, key); err != nil {
					log.Printf("Warning: Failed to delete archived page %s: %v", key, err)
				}
			}
		} else if err := s.spacesClient.DeleteFile(ctx, doc.SpacesKey); err != nil {
			log.Printf("Warning: Failed to delete archived upload for %s: %v", fp, err)
		}
	}

	return nil
}

func (s *DocumentService) ingestPDF(ctx context.Context, displayName, filename string, content []byte) (*SubmitInput, error) {
	validation, err := pdfvalidation.ValidatePDFBytes(content, pdfvalidation.DefaultLimits)
	if err != nil {
		return nil, fmt.Errorf("failed to validate PDF: %w", err)
	}
	if !validation.Valid {
		return nil, fmt.Errorf("invalid document: %s", validation.Error)
	}

	text, pageCount, err := s.pdfExtractor.ExtractTextWithPageCount(content)
	if err != nil {
		if !errors.Is(err, ErrInsufficientText) {
			return nil, fmt.Errorf("failed to extract text from PDF: %w", err)
		}
		// Scanned PDF: fall through to OCR when available
		if !s.enableOCR {
			return nil, fmt.Errorf("PDF appears to be scanned and the OCR service is not configured: %w", err)
		}
		log.Printf("Document Service: %s has no embedded text, routing through OCR", displayName)
		ocrResp, ocrErr := s.ocrClient.ProcessPDFFile(ctx, content, filename)
		if ocrErr != nil {
			return nil, fmt.Errorf("OCR processing failed: %w", ocrErr)
		}
		text = ocrResp.Text
		if ocrResp.PageCount > 0 {
			pageCount = ocrResp.PageCount
		}
	}

	normalized := normalizeText(text)
	if normalized == "" {
		return nil, ErrEmptyDocument
	}
	if pageCount == 0 {
		pageCount = validation.PageCount
	}

	input := &SubmitInput{
		Fingerprint: fingerprint.FromString(normalized),
		DisplayName: displayName,
		ContentType: model.ContentTypeText,
		Text:        normalized,
		ByteSize:    int64(len(content)),
		PageCount:   pageCount,
	}
	s.archive(ctx, input, filename, content)
	return input, nil
}

func (s *DocumentService) ingestHTML(ctx context.Context, displayName, filename string, content []byte) (*SubmitInput, error) {
	text, err := htmltext.Extract(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	normalized := normalizeText(text)
	if normalized == "" {
		return nil, ErrEmptyDocument
	}

	input := &SubmitInput{
		Fingerprint: fingerprint.FromString(normalized),
		DisplayName: displayName,
		ContentType: model.ContentTypeText,
		Text:        normalized,
		ByteSize:    int64(len(content)),
	}
	s.archive(ctx, input, filename, content)
	return input, nil
}

func (s *DocumentService) ingestPlainText(ctx context.Context, displayName, filename string, content []byte) (*SubmitInput, error) {
	normalized := normalizeText(string(content))
	if normalized == "" {
		return nil, ErrEmptyDocument
	}

	input := &SubmitInput{
		Fingerprint: fingerprint.FromString(normalized),
		DisplayName: displayName,
		ContentType: model.ContentTypeText,
		Text:        normalized,
		ByteSize:    int64(len(content)),
	}
	s.archive(ctx, input, filename, content)
	return input, nil
}

// archive stores the raw upload in Spaces keyed by fingerprint. Failures are
// logged and ignored; the pipeline works from the extracted content.
func (s *DocumentService) archive(ctx context.Context, input *SubmitInput, filename string, content []byte) {
	if !s.enableSpaces {
		return
	}

	key := digitalocean.ArchiveKey(input.Fingerprint, filename)
	url, err := s.spacesClient.UploadBytes(ctx, key, content, digitalocean.GetContentType(filename))
	if err != nil {
		log.Printf("Warning: Failed to archive upload %s: %v", filename, err)
		return
	}
	input.SpacesKey = key
	input.SpacesURL = url
}

// sniffKind routes an upload by extension, falling back to content sniffing
// for extensionless names
func sniffKind(filename string, content []byte) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return kindPDF
	case ".html", ".htm":
		return kindHTML
	case ".txt", ".md":
		return kindText
	case ".png", ".jpg", ".jpeg", ".webp":
		return kindImage
	}

	switch {
	case bytes.HasPrefix(content, []byte("%PDF-")):
		return kindPDF
	case looksLikeHTML(content):
		return kindHTML
	case looksLikeImage(content):
		return kindImage
	default:
		return kindText
	}
}

func looksLikeHTML(content []byte) bool {
	head := strings.ToLower(string(bytes.TrimSpace(content[:min(len(content), 256)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func looksLikeImage(content []byte) bool {
	if bytes.HasPrefix(content, pngMagic) || bytes.HasPrefix(content, jpegMagic) {
		return true
	}
	// WebP: RIFF....WEBP
	return len(content) >= 12 && bytes.Equal(content[:4], []byte("RIFF")) && bytes.Equal(content[8:12], []byte("WEBP"))
}

// normalizeText canonicalizes line endings and trims outer whitespace so the
// same content always produces the same fingerprint
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
