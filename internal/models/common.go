package models

// APIResponse is the JSON envelope returned by every API endpoint.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}
