package marionette

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ysmood/gson"

	"github.com/skarab42/pantin/internal/types"
)

// Client wraps a Conn with the typed commands of §4.C. Each method is a
// small struct-in/struct-out wrapper over Conn.Call.
type Client struct {
	conn *Conn
}

// NewClient wraps an already-connected Conn.
func NewClient(conn *Conn) *Client {
	return &Client{conn: conn}
}

// NewSession issues WebDriver:NewSession and returns the session id.
func (c *Client) NewSession(ctx context.Context) (string, error) {
	result, err := c.conn.Call(ctx, "WebDriver:NewSession", map[string]interface{}{})
	if err != nil {
		return "", err
	}
	return result.Get("sessionId").Str(), nil
}

// SetWindowRect issues WebDriver:SetWindowRect.
func (c *Client) SetWindowRect(ctx context.Context, width, height uint32) error {
	_, err := c.conn.Call(ctx, "WebDriver:SetWindowRect", map[string]interface{}{
		"width":  width,
		"height": height,
	})
	return err
}

// Navigate issues WebDriver:Navigate and returns once the browser
// reports DOMContentLoaded. Transport-fatal errors (a dropped connection,
// a non-recoverable MarionetteError) pass through unwrapped so callers can
// still classify them with errors.Is/As; only genuine navigation failures
// (bad scheme, DNS failure, etc, surfaced by the browser) are wrapped.
func (c *Client) Navigate(ctx context.Context, url string) error {
	_, err := c.conn.Call(ctx, "WebDriver:Navigate", map[string]interface{}{"url": url})
	if err == nil {
		return nil
	}

	if errors.Is(err, types.ErrConnectionLost) {
		return err
	}
	var marionetteErr *types.MarionetteError
	if errors.As(err, &marionetteErr) && !marionetteErr.Recoverable() {
		return err
	}

	return types.NewNavigationFailedError(url, err)
}

// ExecuteScript issues WebDriver:ExecuteScript with the given script body
// and positional args, returning the JSON value the script returns (§4.C).
func (c *Client) ExecuteScript(ctx context.Context, script string, args []interface{}) (gson.JSON, error) {
	if args == nil {
		args = []interface{}{}
	}
	result, err := c.conn.Call(ctx, "WebDriver:ExecuteScript", map[string]interface{}{
		"script": script,
		"args":   args,
	})
	if err != nil {
		return gson.JSON{}, err
	}
	return result.Get("value"), nil
}

// FindElement issues WebDriver:FindElement with using="css selector" or
// using="xpath", returning the element reference. Zero matches surface
// as *types.ElementNotFoundError.
func (c *Client) FindElement(ctx context.Context, using, value string) (string, error) {
	result, err := c.conn.Call(ctx, "WebDriver:FindElement", map[string]interface{}{
		"using": using,
		"value": value,
	})
	if err != nil {
		var marionetteErr *types.MarionetteError
		if me, ok := err.(*types.MarionetteError); ok {
			marionetteErr = me
		}
		if marionetteErr != nil && marionetteErr.Code == "no such element" {
			return "", types.NewElementNotFoundError(using, value)
		}
		return "", err
	}

	ref := result.Get("elementRef").Str()
	if ref == "" {
		// Real Marionette wraps the opaque ref under a webdriver element
		// identifier key rather than a flat "elementRef" field; fall
		// back to the sole value of the result object.
		for _, v := range result.Map() {
			if s := v.Str(); s != "" {
				ref = s
				break
			}
		}
	}
	if ref == "" {
		return "", types.NewElementNotFoundError(using, value)
	}
	return ref, nil
}

// TakeScreenshotParams configures WebDriver:TakeScreenshot (§4.C).
type TakeScreenshotParams struct {
	ElementRef string // optional; capture this element only
	Full       bool   // capture the entire document rather than the viewport
}

// TakeScreenshot issues WebDriver:TakeScreenshot and decodes the
// returned base64 PNG into raw bytes. A decode failure, or decoded bytes
// without the PNG magic, surfaces as an error matching
// types.ErrInvalidScreenshotEncoding under errors.Is.
func (c *Client) TakeScreenshot(ctx context.Context, params TakeScreenshotParams) (types.PngBytes, error) {
	payload := map[string]interface{}{}
	if params.ElementRef != "" {
		payload["id"] = params.ElementRef
	}
	if params.Full {
		payload["full"] = true
	}

	result, err := c.conn.Call(ctx, "WebDriver:TakeScreenshot", payload)
	if err != nil {
		return nil, err
	}

	encoded := result.Get("value").Str()
	raw, decErr := base64.StdEncoding.DecodeString(encoded)
	if decErr != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidScreenshotEncoding, decErr)
	}
	if !types.IsValidPNG(raw) {
		return nil, types.ErrInvalidScreenshotEncoding
	}
	return types.PngBytes(raw), nil
}

// Quit issues Marionette:Quit with eForceQuit, best-effort: callers
// bound this with a short timeout (§4.D: "≤2s timeout") via ctx.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.conn.Call(ctx, "Marionette:Quit", map[string]interface{}{
		"flags": []string{"eForceQuit"},
	})
	return err
}
