package plugins

import (
	"encoding/json"
)

// Function names the host calls, grouped by the capability they require.
const (
	// url_parser
	FuncParseRequest = "parse_request"

	// provider
	FuncProviderGetFile = "provider_get_file"
	FuncProviderRemove  = "provider_remove"
	FuncProcessAdd      = "process_add"
	FuncProcessStatus   = "process_status"
	FuncProcessCancel   = "process_cancel"

	// video_convert
	FuncConvert             = "convert"
	FuncConvertStatus       = "convert_status"
	FuncConvertCancel       = "convert_cancel"
	FuncConvertLink         = "convert_link"
	FuncConvertClean        = "convert_clean"
	FuncConvertCapabilities = "convert_capabilities"

	// oauth
	FuncExchangeToken = "exchange_token"
)

// Input is the envelope every call receives
type Input struct {
	Params     json.RawMessage `json:"params,omitempty"`
	Credential *Credential     `json:"credential,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
}

// Bind decodes Params into v
func (in *Input) Bind(v interface{}) error {
	if len(in.Params) == 0 {
		return Errorf(CodeBadRequest, "missing params")
	}
	if err := json.Unmarshal(in.Params, v); err != nil {
		return Errorf(CodeBadRequest, "invalid params: %v", err)
	}
	return nil
}

// Credential is the resolved secret a plugin receives for authorized calls
type Credential struct {
	ID           string          `json:"id,omitempty"`
	Kind         string          `json:"kind,omitempty"`
	Login        *string         `json:"login,omitempty"`
	Password     *string         `json:"password,omitempty"`
	Token        *string         `json:"token,omitempty"`
	RefreshToken *string         `json:"refresh_token,omitempty"`
	Expires      *int64          `json:"expires,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
}
