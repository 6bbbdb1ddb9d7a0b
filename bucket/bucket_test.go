package bucket

import (
	"io"
	"os"
	"path/filepath"

	"github.com/holmesengine/shepherd/cmn"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("bucket pool", func() {
	var (
		dir  string
		path string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "shep-bucket-")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "pool.0")
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	appendOne := func(bf *File, body []byte, btype uint32) Header {
		w, err := bf.Create()
		Expect(err).NotTo(HaveOccurred())
		_, err = w.Write(body)
		Expect(err).NotTo(HaveOccurred())
		hdr, err := bf.CreateEnd(w, btype)
		Expect(err).NotTo(HaveOccurred())
		return hdr
	}

	Describe("create, fetch, delete", func() {
		It("round-trips a single bucket", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())
			defer bf.Close()

			payload := []byte("hello shepherd")
			hdr := appendOne(bf, payload, 1)
			Expect(hdr.Oid).To(BeEquivalentTo(0))

			gotHdr, r, err := bf.Fetch(hdr.Oid)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotHdr.Length).To(BeEquivalentTo(len(payload)))
			got, err := io.ReadAll(r)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(payload))
		})

		It("assigns increasing oids aligned to Align", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())
			defer bf.Close()

			h1 := appendOne(bf, []byte("a"), 1)
			h2 := appendOne(bf, []byte("bb"), 1)
			Expect(OidToOffset(h2.Oid) - OidToOffset(h1.Oid)).To(Equal(Size(h1.Length)))
		})

		It("marks a deleted bucket and rejects fetching it", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())
			defer bf.Close()

			hdr := appendOne(bf, []byte("gone"), 1)
			Expect(bf.Delete(hdr.Oid)).To(Succeed())

			got, err := bf.FindByOid(hdr.Oid)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Oid).To(BeEquivalentTo(cmn.OidDeleted))

			_, _, err = bf.Fetch(hdr.Oid)
			Expect(err).To(HaveOccurred())
		})

		It("refuses an append that would exceed the effective max size", func() {
			bf, err := Open(path, OpenOpts{Writable: true, ConfiguredMax: Size(4) + Size(0)*4})
			Expect(err).NotTo(HaveOccurred())
			defer bf.Close()

			w, err := bf.Create()
			Expect(err).NotTo(HaveOccurred())
			_, _ = w.Write([]byte("toolongforthislimit"))
			_, err = bf.CreateEnd(w, 1)
			Expect(err).To(MatchError(ErrMaxSize))
		})
	})

	Describe("slurp", func() {
		It("streams every bucket in order, including deleted ones", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())
			defer bf.Close()

			h1 := appendOne(bf, []byte("one"), 1)
			appendOne(bf, []byte("two"), 1)
			appendOne(bf, []byte("three"), 1)
			Expect(bf.Delete(h1.Oid)).To(Succeed())

			s, err := bf.Slurp(nil)
			Expect(err).NotTo(HaveOccurred())

			var seen int
			var sawDeleted bool
			for {
				hdr, _, err := s.Next()
				if err == io.EOF {
					break
				}
				Expect(err).NotTo(HaveOccurred())
				seen++
				if hdr.Oid == cmn.OidDeleted {
					sawDeleted = true
				}
			}
			Expect(s.SlurpEnd()).To(Succeed())
			Expect(seen).To(Equal(3))
			Expect(sawDeleted).To(BeTrue())
		})

		It("resumes from a given oid", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())
			defer bf.Close()

			appendOne(bf, []byte("one"), 1)
			h2 := appendOne(bf, []byte("two"), 1)
			appendOne(bf, []byte("three"), 1)

			s, err := bf.Slurp(&h2.Oid)
			Expect(err).NotTo(HaveOccurred())
			hdr, _, err := s.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(hdr.Oid).To(Equal(h2.Oid))
			Expect(s.SlurpEnd()).To(Succeed())
		})
	})

	Describe("shakedown", func() {
		It("compacts away deleted buckets and preserves the order of survivors", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())

			h1 := appendOne(bf, []byte("keep-1"), 1)
			h2 := appendOne(bf, []byte("drop-me"), 1)
			h3 := appendOne(bf, []byte("keep-2"), 1)
			Expect(bf.Delete(h2.Oid)).To(Succeed())

			var kept [][]byte
			err = bf.Shakedown(func(old Header, _ uint32, body []byte) (KeepResult, []byte) {
				if old.Oid == cmn.OidDeleted {
					return Drop, nil
				}
				kept = append(kept, append([]byte(nil), body...))
				return Keep, nil
			}, Level1)
			Expect(err).NotTo(HaveOccurred())
			Expect(kept).To(Equal([][]byte{[]byte("keep-1"), []byte("keep-2")}))

			fi, err := os.Stat(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(fi.Size()).To(Equal(Size(h1.Length) + Size(h3.Length)))
			Expect(bf.Close()).To(Succeed())
		})

		It("honors a callback that shortens a bucket's payload", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())

			appendOne(bf, []byte("original-long-body"), 1)

			err = bf.Shakedown(func(_ Header, _ uint32, body []byte) (KeepResult, []byte) {
				return KeepChanged, body[:4]
			}, Level1)
			Expect(err).NotTo(HaveOccurred())

			s, err := bf.Slurp(nil)
			Expect(err).NotTo(HaveOccurred())
			hdr, body, err := s.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(hdr.Length).To(BeEquivalentTo(4))
			Expect(body).To(Equal([]byte("orig")))
			Expect(s.SlurpEnd()).To(Succeed())
			Expect(bf.Close()).To(Succeed())
		})

		It("backs up each window under security level 2", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())

			appendOne(bf, []byte("a"), 1)
			appendOne(bf, []byte("b"), 1)

			err = bf.Shakedown(func(_ Header, _ uint32, body []byte) (KeepResult, []byte) {
				return Keep, nil
			}, Level2)
			Expect(err).NotTo(HaveOccurred())
			Expect(bf.Close()).To(Succeed())

			_, err = os.Stat(path + ".shake-backup")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("fsck", func() {
		It("counts live and deleted buckets without modifying a healthy pool", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())
			h1 := appendOne(bf, []byte("one"), 1)
			appendOne(bf, []byte("two"), 1)
			Expect(bf.Delete(h1.Oid)).To(Succeed())
			Expect(bf.Close()).To(Succeed())

			rep, err := Fsck(path, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.OKCount).To(Equal(1))
			Expect(rep.Deleted).To(Equal(1))
			Expect(rep.Repaired).To(Equal(0))
		})

		It("repairs a garbled header by synthesizing a deleted bucket over the gap", func() {
			bf, err := Open(path, OpenOpts{Writable: true})
			Expect(err).NotTo(HaveOccurred())
			appendOne(bf, []byte("good-1"), 1)
			garbledOff := func() int64 {
				fi, _ := os.Stat(path)
				return fi.Size()
			}()
			appendOne(bf, []byte("will-be-garbled"), 1)
			appendOne(bf, []byte("good-2"), 1)
			Expect(bf.Close()).To(Succeed())

			f, err := os.OpenFile(path, os.O_RDWR, 0o644)
			Expect(err).NotTo(HaveOccurred())
			_, err = f.WriteAt([]byte{0, 0, 0, 0}, garbledOff)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Close()).To(Succeed())

			rep, err := Fsck(path, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Repaired).To(BeNumerically(">=", 1))

			// A second, read-only pass over the repaired pool must find no
			// further unreadable stretches.
			rep2, err := Fsck(path, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep2.Repaired).To(Equal(0))
		})
	})
})
