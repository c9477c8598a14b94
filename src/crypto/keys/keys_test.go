package keys

import (
	"io/ioutil"
	"os"
	"path"
	"testing"
)

func TestSimpleKeyfile(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "murmur")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	simpleKeyfile := NewSimpleKeyfile(path.Join(dir, "node_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	key, created, err := simpleKeyfile.LoadOrCreate()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !created {
		t.Fatalf("LoadOrCreate should have created a key")
	}

	nKey, created, err := simpleKeyfile.LoadOrCreate()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if created {
		t.Fatalf("LoadOrCreate should have read the existing key")
	}

	if PrivateKeyHex(nKey) != PrivateKeyHex(key) {
		t.Fatalf("Keys do not match")
	}
}

func TestFilePermissions(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "murmur")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	key, _ := GenerateKey()
	rawKey := PrivateKeyHex(key)

	badKeyPath := path.Join(dir, "node_key_bad")

	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}

	for _, fm := range shouldErr {
		os.Remove(badKeyPath)
		ioutil.WriteFile(badKeyPath, []byte(rawKey), fm)

		if _, err := NewSimpleKeyfile(badKeyPath).ReadKey(); err == nil {
			t.Fatalf("%o || keyfile should return permissions error", fm)
		}
	}

	goodKeyPath := path.Join(dir, "node_key_good")

	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}

	for _, fm := range shouldNotErr {
		os.Remove(goodKeyPath)
		ioutil.WriteFile(goodKeyPath, []byte(rawKey), fm)

		if _, err := NewSimpleKeyfile(goodKeyPath).ReadKey(); err != nil {
			t.Fatalf("%o || keyfile should not return error. Got %v", fm, err)
		}
	}
}

func TestSignVerify(t *testing.T) {
	privKey, _ := GenerateKey()
	pub := PublicKeyBytes(privKey.PubKey())

	msg := []byte("J'aime mieux forger mon ame que la meubler")

	sig, err := Sign(privKey, msg)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := Verify(pub, msg, sig); err != nil {
		t.Fatalf("signature should verify: %v", err)
	}

	if err := Verify(pub, []byte("tampered"), sig); err != ErrBadSignature {
		t.Fatalf("tampered message should fail with ErrBadSignature, got %v", err)
	}

	other, _ := GenerateKey()
	if err := Verify(PublicKeyBytes(other.PubKey()), msg, sig); err == nil {
		t.Fatalf("signature should not verify against another key")
	}
}
