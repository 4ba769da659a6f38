package block

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/maestro-os/maestro/errno"
)

// gptSignature is the 8-byte magic every GPT header starts with.
var gptSignature = [8]byte{'E', 'F', 'I', ' ', 'P', 'A', 'R', 'T'}

const gptHeaderSize = 92
const gptEntrySize = 128

// gptHeader mirrors original_source/kernel/src/device/storage/partition/gpt.rs's
// Gpt struct field-for-field, including its choice of signed LBA fields:
// a negative LBA counts backward from the end of the disk (translateLBA),
// matching the original's translate_lba helper rather than the
// unsigned-only addressing the UEFI spec itself uses.
type gptHeader struct {
	Signature       [8]byte
	Revision        uint32
	HeaderSize      uint32
	Checksum        uint32
	Reserved        uint32
	CurrentLBA      int64
	AlternateLBA    int64
	FirstUsableLBA  uint64
	LastUsableLBA   uint64
	DiskGUID        [16]byte
	EntriesStartLBA int64
	EntriesNumber   uint32
	EntrySize       uint32
	EntriesChecksum uint32
}

// gptEntry mirrors the original's GPTEntry struct.
type gptEntry struct {
	PartitionType [16]byte
	GUID          [16]byte
	Start         int64
	End           int64
	Attributes    uint64
	Name          [36]uint16
}

func (e *gptEntry) isUsed() bool {
	return e.PartitionType != [16]byte{}
}

// translateLBA turns a possibly-negative LBA into an absolute block
// index, mirroring the original's translate_lba: negative values count
// backward from the end of the disk.
func translateLBA(lba int64, blocksCount uint64) (uint64, bool) {
	if lba < 0 {
		neg := uint64(-lba)
		if neg <= blocksCount {
			return blocksCount - neg, true
		}
		return 0, false
	}
	if uint64(lba) <= blocksCount {
		return uint64(lba), true
	}
	return 0, false
}

// GPT is a parsed, validated GUID Partition Table header.
type GPT struct {
	hdr gptHeader
}

// ReadGPT reads and validates dev's primary GPT header, cross-checking
// its partition entries against the alternate (backup) header's copy,
// per the original's Table::read. A return of (nil, nil) means no GPT
// table was found (not an error — the caller should fall back to
// another table format or treat the disk as unpartitioned).
func ReadGPT(dev Device) (*GPT, error) {
	main, err := readHeaderAt(dev, 1)
	if err != nil {
		if err == errno.EINVAL {
			return nil, nil
		}
		return nil, err
	}

	alt, err := readHeaderAt(dev, main.hdr.AlternateLBA)
	if err != nil {
		return nil, err
	}

	mainEntries, err := main.entries(dev)
	if err != nil {
		return nil, err
	}
	altEntries, err := alt.entries(dev)
	if err != nil {
		return nil, err
	}

	blocksCount := dev.BlockCount()
	n := len(mainEntries)
	if len(altEntries) < n {
		n = len(altEntries)
	}
	for i := 0; i < n; i++ {
		if !entriesEqual(&mainEntries[i], &altEntries[i], blocksCount) {
			return nil, errno.EINVAL
		}
	}

	return main, nil
}

func readHeaderAt(dev Device, lba int64) (*GPT, error) {
	if gptHeaderSize > int(dev.BlockSize()) {
		return nil, errno.EINVAL
	}
	abs, ok := translateLBA(lba, dev.BlockCount())
	if !ok {
		return nil, errno.EINVAL
	}
	buf := make([]byte, dev.BlockSize())
	if err := dev.ReadBlocks(abs, buf); err != nil {
		return nil, err
	}

	var hdr gptHeader
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &hdr); err != nil {
		return nil, errno.EINVAL
	}
	if !isValidHeader(&hdr) {
		return nil, errno.EINVAL
	}
	return &GPT{hdr: hdr}, nil
}

func isValidHeader(hdr *gptHeader) bool {
	if hdr.Signature != gptSignature {
		return false
	}
	if hdr.EntrySize == 0 {
		return false
	}

	wantChecksum := hdr.Checksum
	zeroed := *hdr
	zeroed.Checksum = 0
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, &zeroed); err != nil {
		return false
	}
	return crc32.ChecksumIEEE(buf.Bytes()) == wantChecksum
}

// entries reads every used partition entry in the table.
func (g *GPT) entries(dev Device) ([]gptEntry, error) {
	blocksCount := dev.BlockCount()
	entriesStart, ok := translateLBA(g.hdr.EntriesStartLBA, blocksCount)
	if !ok {
		return nil, errno.EINVAL
	}
	blockSize := uint64(dev.BlockSize())

	out := make([]gptEntry, 0, g.hdr.EntriesNumber)
	raw := make([]byte, gptEntrySize)
	for i := uint32(0); i < g.hdr.EntriesNumber; i++ {
		off := entriesStart*blockSize + uint64(i)*uint64(g.hdr.EntrySize)
		if err := dev.ReadBytes(raw, off); err != nil {
			return nil, err
		}
		var e gptEntry
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &e); err != nil {
			return nil, errno.EINVAL
		}
		if !e.isUsed() {
			continue
		}
		start, ok1 := translateLBA(e.Start, blocksCount)
		end, ok2 := translateLBA(e.End, blocksCount)
		if !ok1 || !ok2 || !(start < end) {
			return nil, errno.EINVAL
		}
		out = append(out, e)
	}
	return out, nil
}

// Partitions returns the table's entries as Partition extents, per the
// original's Table::get_partitions.
func (g *GPT) Partitions(dev Device) ([]Partition, error) {
	entries, err := g.entries(dev)
	if err != nil {
		return nil, err
	}
	blocksCount := dev.BlockCount()
	out := make([]Partition, 0, len(entries))
	for _, e := range entries {
		start, _ := translateLBA(e.Start, blocksCount)
		end, _ := translateLBA(e.End, blocksCount)
		out = append(out, Partition{StartLBA: start, Blocks: (end - start) + 1})
	}
	return out, nil
}

func entriesEqual(a, b *gptEntry, blocksCount uint64) bool {
	if a.PartitionType != b.PartitionType || a.GUID != b.GUID {
		return false
	}
	aStart, ok1 := translateLBA(a.Start, blocksCount)
	bStart, ok2 := translateLBA(b.Start, blocksCount)
	aEnd, ok3 := translateLBA(a.End, blocksCount)
	bEnd, ok4 := translateLBA(b.End, blocksCount)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	if aStart != bStart || aEnd != bEnd {
		return false
	}
	if a.Attributes != b.Attributes {
		return false
	}
	return a.Name == b.Name
}
