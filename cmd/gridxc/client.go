package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiError mirrors internal/api.Error without importing the server
// package into the client binary.
type apiError struct {
	Message string `json:"message"`
}

// doJSON issues method/path against gridxcAddr, encoding body (if non-nil)
// as the JSON request payload and decoding a 2xx response into out.
func doJSON(method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, gridxcAddr+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var ae apiError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		if ae.Message == "" {
			ae.Message = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, ae.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
