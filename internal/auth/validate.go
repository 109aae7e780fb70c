package auth

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cvforge/internal/database"
)

// ValidateUser 确认用户仍然存在，返回去除密码哈希的档案；用户不存在时返回 (nil, nil)。
// 认证中间件在每次请求上调用它，令已删除账号的存量令牌失效。
func ValidateUser(ctx context.Context, db *gorm.DB, userID uint) (*database.User, error) {
	var user database.User
	if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	user.PasswordHash = ""
	return &user, nil
}
