package resession

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func newCachedStub(t *testing.T) (func() (*Session, error), *[]*stubFactory) {
	t.Helper()
	factories := []*stubFactory{}
	build := func() (*Session, error) {
		f := &stubFactory{}
		factories = append(factories, f)
		return New(WithFactory(f.factory), WithConfig(&Config{}))
	}
	return build, &factories
}

func TestCacheGetOrCreate(t *testing.T) {
	g := NewGomegaWithT(t)
	c := NewCache(time.Minute)
	defer c.CloseAll()

	build, factories := newCachedStub(t)

	first, err := c.GetOrCreate("upstream-a", build)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(len(*factories)).To(Equal(1))

	again, err := c.GetOrCreate("upstream-a", build)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(again).To(BeIdenticalTo(first))
	g.Expect(len(*factories)).To(Equal(1))

	other, err := c.GetOrCreate("upstream-b", build)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(other).ToNot(BeIdenticalTo(first))
	g.Expect(len(*factories)).To(Equal(2))
}

func TestCacheExpiryClosesSession(t *testing.T) {
	g := NewGomegaWithT(t)
	c := NewCache(20 * time.Millisecond)
	defer c.CloseAll()

	build, factories := newCachedStub(t)

	_, err := c.GetOrCreate("upstream-a", build)
	g.Expect(err).ToNot(HaveOccurred())

	time.Sleep(40 * time.Millisecond)

	// The expired entry is evicted and closed on access.
	g.Expect(c.Get("upstream-a")).To(BeNil())
	g.Expect((*factories)[0].transport(0).wasClosed()).To(BeTrue())

	_, err = c.GetOrCreate("upstream-a", build)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(len(*factories)).To(Equal(2))
}

func TestCacheSetReplacesAndCloses(t *testing.T) {
	g := NewGomegaWithT(t)
	c := NewCache(time.Minute)
	defer c.CloseAll()

	build, factories := newCachedStub(t)

	first, err := build()
	g.Expect(err).ToNot(HaveOccurred())
	c.Set("upstream-a", first)

	second, err := build()
	g.Expect(err).ToNot(HaveOccurred())
	c.Set("upstream-a", second)

	g.Expect((*factories)[0].transport(0).wasClosed()).To(BeTrue())
	g.Expect(c.Get("upstream-a")).To(BeIdenticalTo(second))
}

func TestCacheDelete(t *testing.T) {
	g := NewGomegaWithT(t)
	c := NewCache(time.Minute)
	defer c.CloseAll()

	build, factories := newCachedStub(t)

	_, err := c.GetOrCreate("upstream-a", build)
	g.Expect(err).ToNot(HaveOccurred())

	c.Delete("upstream-a")
	g.Expect(c.Get("upstream-a")).To(BeNil())
	g.Expect((*factories)[0].transport(0).wasClosed()).To(BeTrue())
}

func TestCacheCloseAll(t *testing.T) {
	g := NewGomegaWithT(t)
	c := NewCache(time.Minute)

	build, factories := newCachedStub(t)

	_, err := c.GetOrCreate("upstream-a", build)
	g.Expect(err).ToNot(HaveOccurred())
	_, err = c.GetOrCreate("upstream-b", build)
	g.Expect(err).ToNot(HaveOccurred())

	c.CloseAll()

	for _, f := range *factories {
		g.Expect(f.transport(0).wasClosed()).To(BeTrue())
	}
	total, _ := c.Stats()
	g.Expect(total).To(Equal(0))

	// Idempotent.
	c.CloseAll()
}

func TestCacheStats(t *testing.T) {
	g := NewGomegaWithT(t)
	c := NewCache(time.Minute)
	defer c.CloseAll()

	build, _ := newCachedStub(t)

	_, err := c.GetOrCreate("upstream-a", build)
	g.Expect(err).ToNot(HaveOccurred())

	total, active := c.Stats()
	g.Expect(total).To(Equal(1))
	g.Expect(active).To(Equal(1))
}
