package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

// writeJSON sends a JSON response with the standard header.
func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// getIntParam retrieves an integer query parameter with default value and range validation
func getIntParam(r *http.Request, key string, defaultVal, minVal, maxVal int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	if val < minVal || val > maxVal {
		return defaultVal
	}
	return val
}

// respondWithError logs the error and sends a JSON error response
// Use this to avoid exposing internal errors while still logging them
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	if err != nil {
		log.Printf("API Error [%d]: %s - %v", code, message, err)
	} else {
		log.Printf("API Error [%d]: %s", code, message)
	}
	http.Error(w, message, code)
}
