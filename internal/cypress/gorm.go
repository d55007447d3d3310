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

package cypress

import (
	"context"
	"errors"
	"time"

	"github.com/yqlenv/yqlenv/internal/db"
	"github.com/yqlenv/yqlenv/internal/db/migrator"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NodeRecord cypress_nodes 表的行
type NodeRecord struct {
	Path      string    `gorm:"primaryKey;size:512" json:"path"`
	Parent    string    `gorm:"size:512;index" json:"parent"`
	Type      string    `gorm:"size:32;not null" json:"type"`
	Value     string    `gorm:"type:text" json:"value"`
	Revision  int64     `gorm:"not null;default:1" json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (NodeRecord) TableName() string {
	return "cypress_nodes"
}

// GormBackend 基于 GORM 的存储实现，支持 SQLite、MySQL、PostgreSQL
type GormBackend struct {
	db    *gorm.DB
	owned bool
}

// NewGormBackend 创建 GORM 存储并迁移表结构
// owned 为 true 时 Close 会关闭底层连接
func NewGormBackend(ctx context.Context, gdb *gorm.DB, owned bool) (*GormBackend, error) {
	if err := migrator.Migrate(ctx, gdb, &NodeRecord{}); err != nil {
		return nil, err
	}
	return &GormBackend{db: gdb, owned: owned}, nil
}

// Load 根据路径读取节点
func (g *GormBackend) Load(ctx context.Context, path string) (*Node, error) {
	var record NodeRecord
	err := g.db.WithContext(ctx).Where("path = ?", path).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}

	node := &Node{
		Type:      NodeType(record.Type),
		Revision:  record.Revision,
		UpdatedAt: record.UpdatedAt,
	}
	if record.Value != "" {
		node.Value = []byte(record.Value)
	}
	return node, nil
}

// Put 写入节点，已存在时整行覆盖
func (g *GormBackend) Put(ctx context.Context, path string, node *Node) error {
	parent, _ := Split(path)
	record := &NodeRecord{
		Path:      path,
		Parent:    parent,
		Type:      string(node.Type),
		Value:     string(node.Value),
		Revision:  node.Revision,
		UpdatedAt: node.UpdatedAt,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(record).Error
}

// Delete 删除节点
func (g *GormBackend) Delete(ctx context.Context, path string) error {
	return g.db.WithContext(ctx).Where("path = ?", path).Delete(&NodeRecord{}).Error
}

// Children 通过 parent 索引查询直接子节点
func (g *GormBackend) Children(ctx context.Context, path string) ([]string, error) {
	var paths []string
	err := g.db.WithContext(ctx).
		Model(&NodeRecord{}).
		Where("parent = ?", path).
		Pluck("path", &paths).Error
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		_, name := Split(p)
		names = append(names, name)
	}
	return names, nil
}

func (g *GormBackend) Close() error {
	if !g.owned {
		return nil
	}
	return db.Close(g.db)
}
