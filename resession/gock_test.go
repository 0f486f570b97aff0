package resession_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	. "github.com/onsi/gomega"
	gock "gopkg.in/h2non/gock.v1"

	"github.com/ditsuke/go-resession/resession"
)

// Exercises the guard over a real *http.Client: the first response poisons
// the session, the next request goes out through a freshly built client.
func TestSessionOverHTTPClient(t *testing.T) {
	defer gock.Off()
	g := NewGomegaWithT(t)

	built := 0
	factory := func() (resession.Transport, error) {
		built++
		client := &http.Client{}
		gock.InterceptClient(client)
		return resession.WrapClient(client), nil
	}

	gock.New("http://upstream.test").
		Get("/profile").
		Reply(http.StatusForbidden)
	gock.New("http://upstream.test").
		Get("/profile").
		Reply(http.StatusOK).
		BodyString("ok")

	s, err := resession.New(
		resession.WithFactory(factory),
		resession.WithConfig(&resession.Config{}),
		resession.WithResetOnStatus(http.StatusForbidden),
	)
	g.Expect(err).ToNot(HaveOccurred())
	defer s.Close()

	resp, err := s.Get(context.Background(), "http://upstream.test/profile")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	resp.Body.Close()
	g.Expect(built).To(Equal(1))

	resp, err = s.Get(context.Background(), "http://upstream.test/profile")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	body, err := io.ReadAll(resp.Body)
	g.Expect(err).ToNot(HaveOccurred())
	resp.Body.Close()
	g.Expect(string(body)).To(Equal("ok"))
	g.Expect(built).To(Equal(2))

	g.Expect(gock.IsDone()).To(BeTrue())
}
