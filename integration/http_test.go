package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// doRequest sends a request through the server without a listening socket.
func doRequest(h *harness, method, path string, body interface{}) *http.Response {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		bodyReader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.server.App().Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

// parseResponse parses JSON response into target.
func parseResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

var _ = Describe("HTTP API", Ordered, func() {
	var (
		h      *harness
		waitID string
	)

	BeforeAll(func() {
		h = newHarness()
	})

	AfterAll(func() {
		h.stop()
	})

	It("reports healthy", func() {
		resp := doRequest(h, "GET", "/healthz", nil)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("registers a wait", func() {
		resp := doRequest(h, "POST", "/v1/waits", map[string]interface{}{
			"callback":        record("http"),
			"correlation_ids": []string{"build", "test"},
			"timeout_ms":      600000,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var result map[string]interface{}
		Expect(parseResponse(resp, &result)).To(Succeed())

		data, ok := result["data"].(map[string]interface{})
		Expect(ok).To(BeTrue())
		waitID = data["id"].(string)
		Expect(waitID).NotTo(BeEmpty())
	})

	It("rejects a wait without correlation ids", func() {
		resp := doRequest(h, "POST", "/v1/waits", map[string]interface{}{
			"callback": record("http"),
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("accepts the first completion", func() {
		resp := doRequest(h, "POST", "/v1/responses/build", map[string]interface{}{
			"payload": map[string]string{"artifact": "app.tar"},
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
	})

	It("rejects a duplicate completion", func() {
		resp := doRequest(h, "POST", "/v1/responses/build", map[string]interface{}{
			"payload": "again",
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
	})

	It("shows the remaining correlation ids", func() {
		resp := doRequest(h, "GET", "/v1/waits/"+waitID, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var result map[string]interface{}
		Expect(parseResponse(resp, &result)).To(Succeed())

		data := result["data"].(map[string]interface{})
		Expect(data["outstanding"]).To(ConsistOf("build", "test"))
	})

	It("fires the callback on the last completion", func() {
		resp := doRequest(h, "POST", "/v1/responses/test", map[string]interface{}{
			"payload": "3 failed",
			"error":   true,
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		rec := h.recorders.get("http")
		Eventually(rec.count).Should(Equal(1))
		Expect(rec.last().Path).To(Equal("error"))
	})

	It("reports the resolved wait", func() {
		Eventually(func() interface{} {
			resp := doRequest(h, "GET", "/v1/waits/"+waitID, nil)
			var result map[string]interface{}
			Expect(parseResponse(resp, &result)).To(Succeed())
			data := result["data"].(map[string]interface{})
			return data["instance"].(map[string]interface{})["status"]
		}).Should(Equal("error"))
	})

	It("returns 404 for unknown waits", func() {
		resp := doRequest(h, "GET", "/v1/waits/does-not-exist", nil)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})
})
