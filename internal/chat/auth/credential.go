package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"golang.org/x/crypto/argon2"

	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

// argon2id 派生参数。
const (
	argonMemory      = 64 * 1024
	argonIterations  = 3
	argonParallelism = 2
	argonSaltLength  = 16
	argonKeyLength   = 32
)

const argonPrefix = "$argon2id$"

// Store 为只读的凭据存储：用户名 -> 口令记录。
//
// 记录值为 argon2id 编码串（"$argon2id$..."）或明文口令，
// 校验时按前缀自动识别。存储在启动时一次性加载，运行期不再变更，
// 因此读取无需加锁。
type Store struct {
	records map[string]string
}

// NewStore 基于给定的记录表创建凭据存储（测试用）。
func NewStore(records map[string]string) *Store {
	if records == nil {
		records = make(map[string]string)
	}
	return &Store{records: records}
}

// LoadStore 从凭据文件加载存储。
//
// 支持两种格式，按内容自动识别：
//   - JSON 对象：{"username": "secret", ...}；
//   - 行式文本：每行 "username:secret"，空行与 '#' 开头的行忽略。
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, merr.WrapErrCredentialFileInvalid(path, err.Error())
	}

	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, "{") {
		records := make(map[string]string)
		if err := sonic.UnmarshalString(content, &records); err != nil {
			return nil, merr.WrapErrCredentialFileInvalid(path, err.Error())
		}
		return &Store{records: records}, nil
	}

	records := make(map[string]string)
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		username, secret, ok := strings.Cut(line, ":")
		if !ok || username == "" {
			return nil, merr.WrapErrCredentialFileInvalid(path,
				fmt.Sprintf("malformed record at line %d", i+1))
		}
		records[username] = secret
	}
	return &Store{records: records}, nil
}

// Len 返回存储中的用户数。
func (s *Store) Len() int {
	return len(s.records)
}

// Exists 返回用户名是否在存储中。
// 用于握手中索取口令之前的用户名存在性检查。
func (s *Store) Exists(username string) bool {
	_, ok := s.records[username]
	return ok
}

// Verify 校验用户名与口令。
//
// 用户不存在返回 ErrAuthUnknownUser，口令不匹配返回
// ErrAuthBadCredential；二者对客户端呈现同一段拒绝文案，
// 区分仅用于日志与指标。
func (s *Store) Verify(username, secret string) error {
	stored, ok := s.records[username]
	if !ok {
		return merr.WrapErrAuthUnknownUser(username)
	}

	if strings.HasPrefix(stored, argonPrefix) {
		ok, err := compareArgon2(secret, stored)
		if err != nil || !ok {
			return merr.WrapErrAuthBadCredential(username)
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) != 1 {
		return merr.WrapErrAuthBadCredential(username)
	}
	return nil
}

// HashSecret 生成口令的 argon2id 编码串，供制备凭据文件使用。
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(secret), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism, b64Salt, b64Hash), nil
}

// compareArgon2 以常数时间比较口令与 argon2id 编码串。
func compareArgon2(secret, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid argon2 hash format")
	}

	var version, memory, iterations, parallelism int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, err
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}

	actual := argon2.IDKey([]byte(secret), salt,
		uint32(iterations), uint32(memory), uint8(parallelism), uint32(len(expected)))
	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}
