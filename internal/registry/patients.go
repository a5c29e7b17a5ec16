package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// RemotePatient is a patient as the registry reports it. ID is empty when the
// registry omitted it; numeric ids are rendered as their decimal string.
type RemotePatient struct {
	ID               string
	FirstName        string
	LastName         string
	DOB              string
	Sex              string
	EthnicBackground string
}

// PatientPage is one page of the registry's patient listing. Page and PerPage
// are zero when the registry did not report them.
type PatientPage struct {
	Patients []RemotePatient
	Page     int
	PerPage  int
}

// CreatePatientRequest is the payload forwarded on local creation.
type CreatePatientRequest struct {
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	DOB              time.Time `json:"dob"`
	Sex              string    `json:"sex"`
	EthnicBackground string    `json:"ethnic_background"`
}

// ListPatients fetches one page of registry patients.
func (c *Client) ListPatients(ctx context.Context, page int) (*PatientPage, error) {
	resp, err := c.FetchPage(ctx, "patients", map[string]string{"page": strconv.Itoa(page)})
	if err != nil {
		return nil, err
	}
	body, perr := parseObject(resp, http.StatusOK)
	if perr != nil {
		return nil, perr
	}
	out := &PatientPage{
		Page:    int(body.Get("page").Int()),
		PerPage: int(body.Get("per_page").Int()),
	}
	body.Get("patients").ForEach(func(_, value gjson.Result) bool {
		if value.IsObject() {
			out.Patients = append(out.Patients, toRemotePatient(value))
		}
		return true
	})
	return out, nil
}

// GetPatient fetches a single registry patient by id.
func (c *Client) GetPatient(ctx context.Context, id string) (*RemotePatient, error) {
	resp, err := c.FetchPage(ctx, "patients/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	body, perr := parseObject(resp, http.StatusOK)
	if perr != nil {
		return nil, perr
	}
	p := toRemotePatient(body)
	return &p, nil
}

// CreatePatient forwards a patient to the registry. Success requires a 201
// carrying an id.
func (c *Client) CreatePatient(ctx context.Context, req CreatePatientRequest) (*RemotePatient, error) {
	resp, err := c.PostJSON(ctx, "patients", req)
	if err != nil {
		return nil, err
	}
	body, perr := parseObject(resp, http.StatusCreated)
	if perr != nil {
		return nil, perr
	}
	p := toRemotePatient(body)
	if p.ID == "" {
		return nil, newError(ErrorBadData, resp.Status, "registry create response has no id", nil)
	}
	return &p, nil
}

// ProcessPatient runs the registry's process operation and returns its raw
// JSON result. Success requires a 200 without an error field.
func (c *Client) ProcessPatient(ctx context.Context, id string, payload any) (json.RawMessage, error) {
	resp, err := c.PostJSON(ctx, "patients/"+url.PathEscape(id)+"/process", payload)
	if err != nil {
		return nil, err
	}
	if _, perr := parseObject(resp, http.StatusOK); perr != nil {
		return nil, perr
	}
	return json.RawMessage(resp.Body), nil
}

// parseObject checks the expected status and that the body is a JSON object
// without an "error" member.
func parseObject(resp *Response, want int) (gjson.Result, *Error) {
	if resp.Status != want {
		return gjson.Result{}, newError(ErrorRejected, resp.Status, "unexpected registry status "+strconv.Itoa(resp.Status), nil)
	}
	if !gjson.ValidBytes(resp.Body) {
		return gjson.Result{}, newError(ErrorBadData, resp.Status, "registry returned malformed JSON", nil)
	}
	body := gjson.ParseBytes(resp.Body)
	if !body.IsObject() {
		return gjson.Result{}, newError(ErrorBadData, resp.Status, "registry returned a non-object body", nil)
	}
	if e := body.Get("error"); e.Exists() {
		return gjson.Result{}, newError(ErrorRejected, resp.Status, e.String(), nil)
	}
	return body, nil
}

func toRemotePatient(v gjson.Result) RemotePatient {
	var id string
	if raw := v.Get("id"); raw.Exists() && raw.Type != gjson.Null {
		id = raw.String()
	}
	return RemotePatient{
		ID:               id,
		FirstName:        v.Get("first_name").String(),
		LastName:         v.Get("last_name").String(),
		DOB:              v.Get("dob").String(),
		Sex:              v.Get("sex").String(),
		EthnicBackground: v.Get("ethnic_background").String(),
	}
}
