package cache

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// behavesLikeCache runs the shared contract against a fresh cache from newCache.
func behavesLikeCache(newCache func() Cache) {
	var c Cache

	BeforeEach(func() {
		c = newCache()
	})

	AfterEach(func() {
		Expect(c.Close()).To(Succeed())
	})

	It("returns absent for unknown keys", func() {
		v, ok, err := c.Get("missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(v).To(BeNil())
	})

	It("round-trips values and overwrites by key", func() {
		Expect(c.Set("memory_u1_s1", []byte("one"))).To(Succeed())
		Expect(c.Set("memory_u1_s1", []byte("two"))).To(Succeed())

		v, ok, err := c.Get("memory_u1_s1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(string(v)).To(Equal("two"))
	})

	It("removes keys idempotently", func() {
		Expect(c.Set("k", []byte("v"))).To(Succeed())
		Expect(c.Remove("k")).To(Succeed())
		Expect(c.Remove("k")).To(Succeed())

		_, ok, err := c.Get("k")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("lists keys by prefix in ascending order", func() {
		for _, k := range []string{"memory_u1_b", "memory_u2_a", "memory_u1_a", "chat_messages_u1"} {
			Expect(c.Set(k, []byte("x"))).To(Succeed())
		}

		keys, err := c.ListKeys("memory_u1_")
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(Equal([]string{"memory_u1_a", "memory_u1_b"}))

		all, err := c.ListKeys("")
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(4))
	})

	It("lists keys under a multi-byte prefix", func() {
		Expect(c.Set("memory_zoë_s1", []byte("x"))).To(Succeed())
		Expect(c.Set("memory_zoe_s1", []byte("x"))).To(Succeed())

		keys, err := c.ListKeys("memory_zoë_")
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(Equal([]string{"memory_zoë_s1"}))
	})

	It("rejects operations after close", func() {
		Expect(c.Close()).To(Succeed())

		_, _, err := c.Get("k")
		Expect(err).To(MatchError(ErrClosed))
		Expect(c.Set("k", nil)).To(MatchError(ErrClosed))
		Expect(c.Remove("k")).To(MatchError(ErrClosed))
		_, err = c.ListKeys("")
		Expect(err).To(MatchError(ErrClosed))
	})
}

var _ = Describe("Map", func() {
	behavesLikeCache(func() Cache { return NewMap() })

	It("does not alias stored values", func() {
		m := NewMap()
		buf := []byte("abc")
		Expect(m.Set("k", buf)).To(Succeed())
		buf[0] = 'z'

		v, _, err := m.Get("k")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(v)).To(Equal("abc"))
	})
})

var _ = Describe("SQLite", func() {
	behavesLikeCache(func() Cache {
		c, err := NewSQLite(filepath.Join(GinkgoT().TempDir(), "cache.db"))
		Expect(err).NotTo(HaveOccurred())
		return c
	})

	It("persists across reopen", func() {
		path := filepath.Join(GinkgoT().TempDir(), "nested", "cache.db")

		c, err := NewSQLite(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Set("chat_messages_u1", []byte(`[]`))).To(Succeed())
		Expect(c.Close()).To(Succeed())

		reopened, err := NewSQLite(path)
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()

		v, ok, err := reopened.Get("chat_messages_u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(string(v)).To(Equal(`[]`))
	})
})

var _ = Describe("New", func() {
	It("returns a map cache without a path", func() {
		c, err := New("  ")
		Expect(err).NotTo(HaveOccurred())
		Expect(Mode(c)).To(Equal("in-memory"))
	})

	It("returns a sqlite cache with a path", func() {
		c, err := New(filepath.Join(GinkgoT().TempDir(), "c.db"))
		Expect(err).NotTo(HaveOccurred())
		defer c.Close()
		Expect(Mode(c)).To(Equal("sqlite"))
	})

	It("reports disabled for a nil cache", func() {
		Expect(Mode(nil)).To(Equal("disabled"))
	})
})
