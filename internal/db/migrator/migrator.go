/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package migrator

import (
	"context"
	"fmt"

	"github.com/yqlenv/yqlenv/internal/logger"
	"gorm.io/gorm"
)

// Migrate 执行数据库表迁移
func Migrate(ctx context.Context, gdb *gorm.DB, models ...any) error {
	if gdb == nil {
		return fmt.Errorf("[Database] 数据库连接未初始化")
	}

	if err := gdb.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("[Database] auto migrate failed: %w", err)
	}

	logger.DebugF(ctx, "[Database] auto migrate success, %d table(s)", len(models))
	return nil
}
