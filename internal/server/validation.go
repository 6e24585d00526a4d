package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"scoreroom/internal/model"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	maxNicknameLength  = 20
	maxAvatarURLLength = 512
	maxScoreDelta      = 1_000_000
)

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
			_, err := validateNickname(fl.Field().String())
			return err == nil
		})
		_ = engine.RegisterValidation("avatar", func(fl validator.FieldLevel) bool {
			_, err := validateAvatarURL(fl.Field().String())
			return err == nil
		})
		_ = engine.RegisterValidation("roomcode", func(fl validator.FieldLevel) bool {
			return model.ValidRoomCode(fl.Field().String())
		})
	})
}

func validateNickname(name string) (string, error) {
	return validateText("nickname", name, maxNicknameLength)
}

// validateAvatarURL accepts an empty value, which clears the avatar.
func validateAvatarURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if len(trimmed) > maxAvatarURLLength {
		return "", fmt.Errorf("avatar url must be %d characters or fewer", maxAvatarURLLength)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", errors.New("avatar url must be an http or https url")
	}
	return trimmed, nil
}

func validateScores(scores map[string]int, members map[string]bool) error {
	if len(scores) == 0 {
		return errors.New("scores are required")
	}
	for playerID, delta := range scores {
		if !members[playerID] {
			return fmt.Errorf("player %s is not in this room", playerID)
		}
		if delta > maxScoreDelta || delta < -maxScoreDelta {
			return fmt.Errorf("score delta must be within %d", maxScoreDelta)
		}
	}
	return nil
}

func validateText(label, text string, maxLen int) (string, error) {
	trimmed := normalizeText(text)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	if len(trimmed) > maxLen {
		return "", fmt.Errorf("%s must be %d characters or fewer", label, maxLen)
	}
	if !isSafeText(trimmed) {
		return "", fmt.Errorf("%s contains unsupported characters", label)
	}
	return trimmed, nil
}

func normalizeText(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	return strings.Join(fields, " ")
}

func isSafeText(text string) bool {
	for _, r := range text {
		if r > 127 {
			return false
		}
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		switch r {
		case ' ', '-', '_', '\'', '.', '!', '?':
			continue
		default:
			return false
		}
	}
	return true
}
