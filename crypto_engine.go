package vault

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	icrypto "github.com/ruchit-p/DynastyMobile-sub004/internal/crypto"
	"github.com/ruchit-p/DynastyMobile-sub004/internal/misc"
)

// FileMetadata travels with an encrypted file. It is stored only in encrypted
// form and is additionally bound into every chunk's AAD, so swapping metadata
// between files is detected at decrypt time.
type FileMetadata struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// canonical produces the deterministic byte form of the metadata used as AAD.
// Field order is fixed; json.Marshal on a struct preserves declaration order.
func (m FileMetadata) canonical() []byte {
	data, _ := json.Marshal(m)
	return data
}

// FileHeader is the plaintext framing of an encrypted file.
type FileHeader struct {
	Version      int    `json:"version"`
	FileID       string `json:"file_id"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkCount   int    `json:"chunk_count"`
	OriginalSize int64  `json:"original_size"`
}

// EncryptedFile is the full sealed artifact: header, the chunked ciphertext
// stream, and the AEAD-sealed metadata blob.
type EncryptedFile struct {
	Header            FileHeader
	Ciphertext        []byte
	EncryptedMetadata []byte
}

// ProgressFunc receives running byte counts during chunked operations.
type ProgressFunc func(processed, total int64)

// Engine performs file-level encryption. Each file gets its own key derived
// from the master key and the file's random ID, so compromising one file key
// exposes exactly one file.
type Engine struct {
	chunkSize int
}

// NewEngine creates an engine with the given chunk size; zero or negative
// selects the default.
func NewEngine(chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = misc.DefaultChunkSize
	}
	return &Engine{chunkSize: chunkSize}
}

// chunkAAD binds a ciphertext chunk to its file's canonical metadata and its
// position in the stream. Reordering, truncating, or cross-file splicing
// chunks all fail authentication.
func chunkAAD(canonicalMeta []byte, index int) []byte {
	aad := make([]byte, 0, len(canonicalMeta)+8)
	aad = append(aad, canonicalMeta...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(index))
	return append(aad, idx[:]...)
}

// EncryptFile seals plaintext under a file key derived from the master key.
// The metadata checksum and size fields are computed here and override
// whatever the caller supplied.
func (e *Engine) EncryptFile(masterKey, plaintext []byte, meta FileMetadata, progress ProgressFunc) (*EncryptedFile, error) {
	fileID := uuid.NewString()

	fileKey, err := icrypto.DeriveFileKey(masterKey, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive file key: %w", err)
	}
	defer memguard.WipeBytes(fileKey)

	meta.Checksum = icrypto.CalculateChecksum(plaintext)
	meta.Size = int64(len(plaintext))
	canonical := meta.canonical()

	total := int64(len(plaintext))
	chunkCount := len(plaintext) / e.chunkSize
	if len(plaintext)%e.chunkSize != 0 || len(plaintext) == 0 {
		chunkCount++
	}

	var ciphertext bytes.Buffer
	var processed int64
	for i := 0; i < chunkCount; i++ {
		start := i * e.chunkSize
		end := start + e.chunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		sealed, err := icrypto.EncryptValue(plaintext[start:end], fileKey, chunkAAD(canonical, i))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt chunk %d: %w", i, err)
		}
		var frame [4]byte
		binary.BigEndian.PutUint32(frame[:], uint32(len(sealed)))
		ciphertext.Write(frame[:])
		ciphertext.Write(sealed)

		processed += int64(end - start)
		if progress != nil {
			progress(processed, total)
		}
	}

	sealedMeta, err := icrypto.EncryptValue(canonical, fileKey, []byte(fileID))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt metadata: %w", err)
	}

	return &EncryptedFile{
		Header: FileHeader{
			Version:      misc.VaultVersion,
			FileID:       fileID,
			ChunkSize:    e.chunkSize,
			ChunkCount:   chunkCount,
			OriginalSize: total,
		},
		Ciphertext:        ciphertext.Bytes(),
		EncryptedMetadata: sealedMeta,
	}, nil
}

// DecryptFile opens a sealed file. The metadata blob is opened first to
// recover the canonical AAD, then every chunk is authenticated against it and
// its index. Any tampering with ciphertext, metadata, chunk order, or the
// header surfaces as ErrIntegrity.
func (e *Engine) DecryptFile(masterKey []byte, file *EncryptedFile, progress ProgressFunc) ([]byte, FileMetadata, error) {
	fileKey, err := icrypto.DeriveFileKey(masterKey, file.Header.FileID)
	if err != nil {
		return nil, FileMetadata{}, fmt.Errorf("failed to derive file key: %w", err)
	}
	defer memguard.WipeBytes(fileKey)

	return decryptWithFileKey(fileKey, file, progress)
}

// decryptWithFileKey opens a sealed file with the file key directly. Used by
// DecryptFile and by share-link redemption, which never sees the master key.
func decryptWithFileKey(fileKey []byte, file *EncryptedFile, progress ProgressFunc) ([]byte, FileMetadata, error) {
	var meta FileMetadata

	canonical, err := icrypto.DecryptValue(file.EncryptedMetadata, fileKey, []byte(file.Header.FileID))
	if err != nil {
		return nil, meta, fmt.Errorf("%w: metadata authentication failed", ErrIntegrity)
	}
	if err = json.Unmarshal(canonical, &meta); err != nil {
		return nil, FileMetadata{}, fmt.Errorf("%w: malformed metadata", ErrIntegrity)
	}

	plaintext := make([]byte, 0, file.Header.OriginalSize)
	stream := file.Ciphertext
	var processed int64
	for i := 0; i < file.Header.ChunkCount; i++ {
		if len(stream) < 4 {
			return nil, FileMetadata{}, fmt.Errorf("%w: truncated ciphertext", ErrIntegrity)
		}
		frameLen := int(binary.BigEndian.Uint32(stream[:4]))
		stream = stream[4:]
		if frameLen <= 0 || frameLen > len(stream) {
			return nil, FileMetadata{}, fmt.Errorf("%w: truncated ciphertext", ErrIntegrity)
		}
		chunk, err := icrypto.DecryptValue(stream[:frameLen], fileKey, chunkAAD(canonical, i))
		if err != nil {
			return nil, FileMetadata{}, fmt.Errorf("%w: chunk %d authentication failed", ErrIntegrity, i)
		}
		stream = stream[frameLen:]
		plaintext = append(plaintext, chunk...)

		processed += int64(len(chunk))
		if progress != nil {
			progress(processed, file.Header.OriginalSize)
		}
	}
	if len(stream) != 0 {
		return nil, FileMetadata{}, fmt.Errorf("%w: trailing ciphertext", ErrIntegrity)
	}

	if icrypto.CalculateChecksum(plaintext) != meta.Checksum {
		return nil, FileMetadata{}, fmt.Errorf("%w: checksum mismatch", ErrIntegrity)
	}
	return plaintext, meta, nil
}

// BatchResult is one input's outcome from EncryptFiles.
type BatchResult struct {
	File *EncryptedFile
	Meta FileMetadata
	Err  error
}

// FileInput pairs plaintext with its metadata for batch encryption.
type FileInput struct {
	Plaintext []byte
	Meta      FileMetadata
}

// EncryptFiles seals a batch of files independently. One file's failure does
// not abort the rest; callers inspect each result's Err. Progress reports
// cumulative bytes across the whole batch.
func (e *Engine) EncryptFiles(masterKey []byte, inputs []FileInput, progress ProgressFunc) []BatchResult {
	var total int64
	for _, in := range inputs {
		total += int64(len(in.Plaintext))
	}

	results := make([]BatchResult, len(inputs))
	var done int64
	for i, in := range inputs {
		base := done
		var perFile ProgressFunc
		if progress != nil {
			perFile = func(processed, _ int64) {
				progress(base+processed, total)
			}
		}
		file, err := e.EncryptFile(masterKey, in.Plaintext, in.Meta, perFile)
		if err != nil {
			results[i] = BatchResult{Err: err}
		} else {
			dec := in.Meta
			dec.Checksum = icrypto.CalculateChecksum(in.Plaintext)
			dec.Size = int64(len(in.Plaintext))
			results[i] = BatchResult{File: file, Meta: dec}
		}
		done += int64(len(in.Plaintext))
	}
	return results
}

// Memzero wipes a byte slice in place.
func Memzero(b []byte) {
	memguard.WipeBytes(b)
}

// MarshalEncryptedFile frames an encrypted file for object storage:
// a length-prefixed JSON header, the sealed metadata blob, then the
// ciphertext stream.
func MarshalEncryptedFile(f *EncryptedFile) ([]byte, error) {
	header, err := json.Marshal(f.Header)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	var frame [4]byte
	binary.BigEndian.PutUint32(frame[:], uint32(len(header)))
	out.Write(frame[:])
	out.Write(header)
	binary.BigEndian.PutUint32(frame[:], uint32(len(f.EncryptedMetadata)))
	out.Write(frame[:])
	out.Write(f.EncryptedMetadata)
	out.Write(f.Ciphertext)
	return out.Bytes(), nil
}

// UnmarshalEncryptedFile parses the framing written by MarshalEncryptedFile.
func UnmarshalEncryptedFile(data []byte) (*EncryptedFile, error) {
	read := func() ([]byte, error) {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: short frame", ErrIntegrity)
		}
		n := int(binary.BigEndian.Uint32(data[:4]))
		data = data[4:]
		if n < 0 || n > len(data) {
			return nil, fmt.Errorf("%w: short frame", ErrIntegrity)
		}
		frame := data[:n]
		data = data[n:]
		return frame, nil
	}

	headerBytes, err := read()
	if err != nil {
		return nil, err
	}
	var f EncryptedFile
	if err = json.Unmarshal(headerBytes, &f.Header); err != nil {
		return nil, fmt.Errorf("%w: malformed header", ErrIntegrity)
	}
	meta, err := read()
	if err != nil {
		return nil, err
	}
	f.EncryptedMetadata = append([]byte(nil), meta...)
	f.Ciphertext = append([]byte(nil), data...)
	return &f, nil
}
