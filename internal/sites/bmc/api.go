package bmc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// apiError is a non-2xx answer from the API.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bmc api: HTTP %d: %s", e.Status, e.Body)
}

// envelope wraps most responses; data is a CryptoJS ciphertext when encrypted is true.
type envelope struct {
	Encrypted *bool               `json:"encrypted"`
	Data      jsoniter.RawMessage `json:"data"`
}

type authResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type logoutResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

type title struct {
	Text string `json:"text"`
	Code string `json:"code"`
}

type masterExam struct {
	Data       []examPart `json:"data"`
	Assessment struct {
		ID    string `json:"_id"`
		Title title  `json:"title"`
	} `json:"assessment"`
}

type examPart struct {
	ID      string `json:"_id"`
	Title   title  `json:"title"`
	Subject string `json:"subject"`
	// Time is the allotted time in minutes.
	Time   int    `json:"time"`
	Access string `json:"access"`
}

type examResult struct {
	Data struct {
		ExamData examData `json:"examData"`
	} `json:"data"`
}

type examData struct {
	ID        string     `json:"_id"`
	Title     title      `json:"title"`
	Subject   string     `json:"subject"`
	Time      int        `json:"time"`
	Questions []question `json:"questions"`
}

type dragDropItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// question is the union of every question type; Type selects the relevant fields.
type question struct {
	Type             string `json:"type"`
	Question         string `json:"question"`
	ContentQuestions string `json:"contentQuestions"`
	Explanation      string `json:"explanation"`

	ContentAnswerA string `json:"contentAnswerA"`
	ContentAnswerB string `json:"contentAnswerB"`
	ContentAnswerC string `json:"contentAnswerC"`
	ContentAnswerD string `json:"contentAnswerD"`

	ContentC1 string `json:"contentC1"`
	ContentC2 string `json:"contentC2"`
	ContentC3 string `json:"contentC3"`
	ContentC4 string `json:"contentC4"`

	ContentYA string `json:"contentYA"`
	ContentYB string `json:"contentYB"`
	ContentYC string `json:"contentYC"`
	ContentYD string `json:"contentYD"`

	Items         []dragDropItem      `json:"items"`
	CorrectAnswer jsoniter.RawMessage `json:"correctAnswer"`
}

type submitRequest struct {
	AssessmentID string `json:"assessmentId"`
	ExamID       string `json:"examId"`
	Access       string `json:"access"`
	// Spelling matches the API.
	CompletedTime int64 `json:"examCompledTime"`
}

// call performs one API request. in is JSON encoded when non-nil; the unwrapped
// payload is decoded into out when non-nil.
func (a *Adapter) call(ctx context.Context, method, path string, s *Session, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s != nil && s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("bmc api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bmc api %s %s: reading body: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return &apiError{Status: resp.StatusCode, Body: truncate(string(raw), 200)}
	}
	if out == nil {
		return nil
	}

	payload, err := a.unwrap(raw)
	if err != nil {
		return fmt.Errorf("bmc api %s %s: %w", method, path, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("bmc api %s %s: decoding: %w", method, path, err)
	}
	return nil
}

// unwrap strips the {encrypted, data} envelope, decrypting when needed. Bodies
// without the envelope pass through.
func (a *Adapter) unwrap(raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Encrypted == nil {
		return raw, nil
	}
	if !*env.Encrypted {
		return env.Data, nil
	}
	var cipherText string
	if err := json.Unmarshal(env.Data, &cipherText); err != nil {
		return nil, fmt.Errorf("encrypted data is not a string")
	}
	plain, err := decryptPassphrase(cipherText, a.passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypting payload: %w", err)
	}
	return plain, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
