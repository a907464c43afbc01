package vault

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruchit-p/DynastyMobile-sub004/internal/misc"
)

func randomMaster(t *testing.T) []byte {
	t.Helper()
	master := make([]byte, misc.MasterKeySize)
	_, err := rand.Read(master)
	require.NoError(t, err)
	return master
}

func randomPlaintext(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func TestEngineRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		size      int
	}{
		{"EmptyFile", 4096, 0},
		{"SmallerThanChunk", 4096, 100},
		{"ExactlyOneChunk", 4096, 4096},
		{"MultipleChunks", 4096, 4096*3 + 17},
		{"DefaultChunkSize", 0, 3 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			master := randomMaster(t)
			plaintext := randomPlaintext(t, tt.size)
			engine := NewEngine(tt.chunkSize)

			sealed, err := engine.EncryptFile(master, plaintext, FileMetadata{
				Name:     "holiday.jpg",
				MimeType: "image/jpeg",
			}, nil)
			require.NoError(t, err)
			require.NotEmpty(t, sealed.Header.FileID)
			assert.Equal(t, int64(tt.size), sealed.Header.OriginalSize)

			out, meta, err := engine.DecryptFile(master, sealed, nil)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(plaintext, out))
			assert.Equal(t, "holiday.jpg", meta.Name)
			assert.Equal(t, "image/jpeg", meta.MimeType)
			assert.Equal(t, int64(tt.size), meta.Size)
		})
	}
}

func TestEngineProgressReporting(t *testing.T) {
	master := randomMaster(t)
	plaintext := randomPlaintext(t, 4096*4)
	engine := NewEngine(4096)

	var calls []int64
	sealed, err := engine.EncryptFile(master, plaintext, FileMetadata{Name: "f"}, func(processed, total int64) {
		assert.Equal(t, int64(len(plaintext)), total)
		calls = append(calls, processed)
	})
	require.NoError(t, err)
	require.Len(t, calls, 4)
	assert.Equal(t, int64(len(plaintext)), calls[len(calls)-1])

	calls = nil
	_, _, err = engine.DecryptFile(master, sealed, func(processed, total int64) {
		calls = append(calls, processed)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(plaintext)), calls[len(calls)-1])
}

func TestEngineDetectsTampering(t *testing.T) {
	master := randomMaster(t)
	engine := NewEngine(4096)
	plaintext := randomPlaintext(t, 4096*2)

	seal := func(t *testing.T) *EncryptedFile {
		sealed, err := engine.EncryptFile(master, plaintext, FileMetadata{Name: "doc.pdf"}, nil)
		require.NoError(t, err)
		return sealed
	}

	t.Run("FlippedCiphertextBit", func(t *testing.T) {
		sealed := seal(t)
		sealed.Ciphertext[len(sealed.Ciphertext)/2] ^= 0x01
		_, _, err := engine.DecryptFile(master, sealed, nil)
		require.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("TamperedMetadata", func(t *testing.T) {
		sealed := seal(t)
		sealed.EncryptedMetadata[len(sealed.EncryptedMetadata)-1] ^= 0x01
		_, _, err := engine.DecryptFile(master, sealed, nil)
		require.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("TruncatedCiphertext", func(t *testing.T) {
		sealed := seal(t)
		sealed.Ciphertext = sealed.Ciphertext[:len(sealed.Ciphertext)/2]
		_, _, err := engine.DecryptFile(master, sealed, nil)
		require.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("SwappedChunks", func(t *testing.T) {
		sealed := seal(t)
		// both chunks carry a 4-byte length frame followed by the sealed chunk
		first := sealed.Ciphertext[:len(sealed.Ciphertext)/2]
		second := sealed.Ciphertext[len(sealed.Ciphertext)/2:]
		swapped := append(append([]byte(nil), second...), first...)
		sealed.Ciphertext = swapped
		_, _, err := engine.DecryptFile(master, sealed, nil)
		require.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("MetadataFromAnotherFile", func(t *testing.T) {
		a := seal(t)
		b, err := engine.EncryptFile(master, plaintext, FileMetadata{Name: "other.pdf"}, nil)
		require.NoError(t, err)

		a.EncryptedMetadata = b.EncryptedMetadata
		_, _, err = engine.DecryptFile(master, a, nil)
		require.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("WrongMasterKey", func(t *testing.T) {
		sealed := seal(t)
		_, _, err := engine.DecryptFile(randomMaster(t), sealed, nil)
		require.ErrorIs(t, err, ErrIntegrity)
	})
}

func TestEncryptedFileFraming(t *testing.T) {
	master := randomMaster(t)
	engine := NewEngine(4096)
	plaintext := randomPlaintext(t, 10000)

	sealed, err := engine.EncryptFile(master, plaintext, FileMetadata{Name: "frame-test"}, nil)
	require.NoError(t, err)

	blob, err := MarshalEncryptedFile(sealed)
	require.NoError(t, err)

	parsed, err := UnmarshalEncryptedFile(blob)
	require.NoError(t, err)
	assert.Equal(t, sealed.Header, parsed.Header)

	out, _, err := engine.DecryptFile(master, parsed, nil)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, out))

	t.Run("TruncatedBlob", func(t *testing.T) {
		_, err := UnmarshalEncryptedFile(blob[:3])
		require.ErrorIs(t, err, ErrIntegrity)
	})
}

func TestEncryptFilesBatch(t *testing.T) {
	master := randomMaster(t)
	engine := NewEngine(4096)

	inputs := []FileInput{
		{Plaintext: randomPlaintext(t, 1000), Meta: FileMetadata{Name: "a.txt"}},
		{Plaintext: randomPlaintext(t, 9000), Meta: FileMetadata{Name: "b.txt"}},
		{Plaintext: nil, Meta: FileMetadata{Name: "empty.txt"}},
	}

	var last int64
	results := engine.EncryptFiles(master, inputs, func(processed, total int64) {
		assert.Equal(t, int64(10000), total)
		last = processed
	})
	require.Len(t, results, 3)
	assert.Equal(t, int64(10000), last)

	for i, res := range results {
		require.NoError(t, res.Err, "input %d", i)
		out, meta, err := engine.DecryptFile(master, res.File, nil)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(inputs[i].Plaintext, out))
		assert.Equal(t, inputs[i].Meta.Name, meta.Name)
	}

	// distinct file keys: same plaintext, different file IDs
	assert.NotEqual(t, results[0].File.Header.FileID, results[1].File.Header.FileID)
}
