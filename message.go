package main

// Error codes for requests that never reach the detector.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidConf    = "invalid_conf"

	MsgNoImage = "Request carried no image. Send a JSON body with \"image\" or \"pixels\", a multipart \"file\" field, or the raw image bytes."
)
