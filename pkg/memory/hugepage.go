package memory

import (
	"os"
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"starNIC/pkg/numa"
)

// HugepageSize 只使用2MiB大页，单次分配在物理上必然连续
const HugepageSize = 2 << 20

const (
	pagemapPath = "/proc/self/pagemap"
	devMemPath  = "/dev/mem"
)

// Hugepage 基于大页的DMA内存分配器，同时负责虚拟地址与物理地址的互相转换。
// 需要 CAP_SYS_ADMIN 才能从 pagemap 读到页帧号。
type Hugepage struct {
	mu      sync.Mutex
	pagemap *os.File
	// 分配时校验内存与当前线程位于同一NUMA节点
	checkNode bool
	log       *logrus.Entry
}

type HugepageOptions struct {
	CheckNode bool
}

var DefaultHugepageOptions = HugepageOptions{
	CheckNode: true,
}

func NewHugepage(options *HugepageOptions) (*Hugepage, error) {
	if options == nil {
		options = &DefaultHugepageOptions
	}
	pagemap, err := os.Open(pagemapPath)
	if err != nil {
		return nil, errors.Wrap(err, "open pagemap failed")
	}
	return &Hugepage{
		pagemap:   pagemap,
		checkNode: options.CheckNode,
		log:       logrus.WithField("module", "memory"),
	}, nil
}

// Allocate 映射一个新的大页，返回其前size字节。内存被锁定且已清零。
func (h *Hugepage) Allocate(size uint64) ([]byte, error) {
	if size == 0 || size > HugepageSize {
		return nil, errors.Errorf("cannot allocate %s, hugepage is %s",
			humanize.IBytes(size), humanize.IBytes(HugepageSize))
	}

	mem, err := unix.Mmap(-1, 0, HugepageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB|unix.MAP_LOCKED|unix.MAP_POPULATE)
	if err != nil {
		return nil, errors.Wrap(err, "unix.Mmap hugepage failed")
	}

	if h.checkNode {
		local, err := numa.IsLocal(uintptr(unsafe.Pointer(&mem[0])))
		if err != nil || !local {
			_ = unix.Munmap(mem)
			if err != nil {
				return nil, errors.WithMessage(err, "query hugepage node")
			}
			return nil, errors.New("hugepage allocated on a remote NUMA node")
		}
	}

	h.log.Tracef("allocated %s", humanize.IBytes(size))
	// 保留完整容量，Free 时按容量归还整个大页
	return mem[:size], nil
}

func (h *Hugepage) Free(mem []byte) error {
	if err := unix.Munmap(mem[:cap(mem)]); err != nil {
		return errors.Wrap(err, "unix.Munmap hugepage failed")
	}
	return nil
}

// VirtToPhys 通过 /proc/self/pagemap 查询地址所在页面的物理页帧
func (h *Hugepage) VirtToPhys(addr uintptr) (uint64, error) {
	pageSize := uint64(os.Getpagesize())
	page := uint64(addr) / pageSize

	var entry [8]byte
	h.mu.Lock()
	_, err := h.pagemap.ReadAt(entry[:], int64(page*8))
	h.mu.Unlock()
	if err != nil {
		return 0, errors.Wrapf(err, "read pagemap entry of 0x%x failed", addr)
	}

	pfn, err := parsePagemapEntry(*(*uint64)(unsafe.Pointer(&entry[0])))
	if err != nil {
		return 0, errors.WithMessagef(err, "address 0x%x", addr)
	}
	return pfn*pageSize + uint64(addr)%pageSize, nil
}

// parsePagemapEntry 返回页帧号。bit 63 表示页面在内存中，bit 0-54 为页帧号；
// 没有 CAP_SYS_ADMIN 时内核返回的页帧号为0
func parsePagemapEntry(entry uint64) (uint64, error) {
	if entry&(1<<63) == 0 {
		return 0, errors.New("page not present")
	}
	pfn := entry & (1<<55 - 1)
	if pfn == 0 {
		return 0, errors.New("page frame number hidden, CAP_SYS_ADMIN required")
	}
	return pfn, nil
}

// PhysToVirt 通过 /dev/mem 将一段物理地址（通常是设备BAR）映射进来，不经过缓存
func (h *Hugepage) PhysToVirt(phys uint64, size uint64) ([]byte, error) {
	f, err := os.OpenFile(devMemPath, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open /dev/mem failed")
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), int64(phys), int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "unix.Mmap /dev/mem at 0x%x failed", phys)
	}

	h.log.Debugf("mapped %s of physical memory at 0x%x", humanize.IBytes(size), phys)
	return mem, nil
}

func (h *Hugepage) Unmap(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return errors.Wrap(err, "unix.Munmap /dev/mem failed")
	}
	return nil
}

func (h *Hugepage) Close() error {
	return h.pagemap.Close()
}
