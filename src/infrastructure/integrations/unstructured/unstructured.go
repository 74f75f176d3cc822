// Package unstructured calls the Unstructured partition API as a fallback
// text extractor for PDF and Word files.
package unstructured

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"docrag/src/core/decoder"
	"docrag/src/core/rag"
	"docrag/src/log"
)

type UnstructuredService struct {
	baseURL    string
	httpClient *http.Client
}

type UnstructuredElement struct {
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	ElementID string   `json:"element_id"`
	Metadata  Metadata `json:"metadata"`
}

type Metadata struct {
	Filename   string `json:"filename,omitempty"`
	Filetype   string `json:"filetype,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
	TableHTML  string `json:"table_html,omitempty"`
}

func NewUnstructuredService(baseURL string, httpClient *http.Client) *UnstructuredService {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &UnstructuredService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (s *UnstructuredService) Name() string { return "unstructured" }

// Extract implements decoder.Strategy.
func (s *UnstructuredService) Extract(ctx context.Context, file decoder.File) (decoder.Extraction, error) {
	elements, err := s.Partition(ctx, file.Name, file.Data)
	if err != nil {
		return decoder.Extraction{}, err
	}
	return Join(elements), nil
}

// Partition uploads a document and returns its elements.
func (s *UnstructuredService) Partition(ctx context.Context, filename string, content []byte) ([]UnstructuredElement, error) {
	var requestBody bytes.Buffer
	multipartWriter := multipart.NewWriter(&requestBody)

	// Create form file
	fileWriter, err := multipartWriter.CreateFormFile("files", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	// Write file content
	if _, err = io.Copy(fileWriter, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}

	for key, value := range map[string]string{
		"strategy":      "auto",
		"output_format": "application/json",
	} {
		if err := multipartWriter.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := multipartWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	// Create request
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/general/v0/general", &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", multipartWriter.FormDataContentType())

	// Send request
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Error(nil, "Unstructured partition failed", "status", resp.Status, "file", filename, "body", string(body))
		err := fmt.Errorf("conversion service error: %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, rag.Permanent(err)
		}
		return nil, err
	}

	// Parse response
	var elements []UnstructuredElement
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return elements, nil
}

// Join concatenates element text, one paragraph per element, and records
// where each page starts.
func Join(elements []UnstructuredElement) decoder.Extraction {
	var (
		sb     strings.Builder
		pages  []decoder.PageStart
		offset int
	)
	for _, el := range elements {
		text := strings.TrimSpace(el.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
			offset += 2
		}
		if p := el.Metadata.PageNumber; p > 0 && (len(pages) == 0 || pages[len(pages)-1].Page != p) {
			pages = append(pages, decoder.PageStart{Page: p, Offset: offset})
		}
		sb.WriteString(text)
		offset += utf8.RuneCountInString(text)
	}
	return decoder.Extraction{Text: sb.String(), Pages: pages}
}
