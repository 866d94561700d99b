package camera

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/pumpprobe/improc"
	"github.com/nasa-jpl/pumpprobe/server"
)

/*HTTPCamera is a client for a camera served over HTTP by the lab's
camera server:

	POST /exposure-time?exposureTime=100ms
	POST /binning            {"h": 4, "v": 4}
	POST /feature/Gain       {"str": "2"}
	POST /feature/PMode      {"str": "Normal"}
	GET  /image?fmt=fits

Features are sent as strings, the server passes them to the camera's
property system verbatim.
*/
type HTTPCamera struct {
	// URL is the root of the camera server, e.g. http://192.168.50.10:8000/camera
	URL string

	Client *http.Client
}

// NewHTTPCamera returns a client for the camera at root
func NewHTTPCamera(root string) *HTTPCamera {
	return &HTTPCamera{
		URL:    strings.TrimSuffix(root, "/"),
		Client: &http.Client{Timeout: time.Minute},
	}
}

func (c *HTTPCamera) post(path string, payload interface{}) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	resp, err := c.Client.Post(c.URL+path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, path)
}

func checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("camera %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
}

// SetExposureTime sets the exposure time
func (c *HTTPCamera) SetExposureTime(d time.Duration) error {
	return c.post("/exposure-time?exposureTime="+url.QueryEscape(d.String()), nil)
}

// SetBinning sets the binning
func (c *HTTPCamera) SetBinning(b Binning) error {
	return c.post("/binning", b)
}

// SetFeature sets a camera property by name
func (c *HTTPCamera) SetFeature(name, value string) error {
	return c.post("/feature/"+url.PathEscape(name), server.StrT{Str: value})
}

// Configure applies the settings.  Empty Binning and Mode are left as is.
func (c *HTTPCamera) Configure(s Settings) error {
	if err := c.SetExposureTime(s.Exposure); err != nil {
		return err
	}
	if s.Binning != "" {
		b, err := ParseBinning(s.Binning)
		if err != nil {
			return err
		}
		if err := c.SetBinning(b); err != nil {
			return err
		}
	}
	if err := c.SetFeature("Gain", strconv.Itoa(s.Gain)); err != nil {
		return err
	}
	if s.Mode != "" {
		if err := c.SetFeature("PMode", s.Mode); err != nil {
			return err
		}
	}
	return nil
}

// Capture takes a frame and decodes it
func (c *HTTPCamera) Capture() (*improc.Image, error) {
	resp, err := c.Client.Get(c.URL + "/image?fmt=fits")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "/image"); err != nil {
		return nil, err
	}
	return ReadFits(resp.Body)
}
