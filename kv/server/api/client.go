package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pingcap-incubator/tinyredis/kv/server"
	"github.com/pingcap/errors"
)

// Client talks to the API of one server over HTTP.
type Client struct {
	addr string
	hc   *http.Client
}

// NewClient creates a client for the server at addr, given as host:port or
// as a URL.
func NewClient(addr string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		addr: strings.TrimSuffix(addr, "/"),
		hc:   &http.Client{},
	}
}

func (c *Client) url(path string) string {
	return c.addr + APIPrefix + path
}

// OpenSession opens a session and returns its id.
func (c *Client) OpenSession() (uint64, error) {
	var resp SessionResponse
	if err := c.do("POST", c.url("/sessions"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) CloseSession(id uint64) error {
	return c.do("DELETE", c.url(fmt.Sprintf("/sessions/%d", id)), nil, nil)
}

// Do runs one command in the session.
func (c *Client) Do(id uint64, args ...string) (*Reply, error) {
	var reply Reply
	if err := c.do("POST", c.url(fmt.Sprintf("/sessions/%d/command", id)), args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) Status() (*server.Status, error) {
	var st server.Status
	if err := c.do("GET", c.url("/status"), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) do(method, url string, in, out interface{}) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return errors.WithStack(err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()
	res, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.WithStack(err)
	}
	if resp.StatusCode/100 != 2 {
		var msg string
		if json.Unmarshal(res, &msg) != nil {
			msg = string(res)
		}
		return errors.Errorf("%s %s: %d %s", method, url, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return errors.WithStack(json.Unmarshal(res, out))
}
